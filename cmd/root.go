// Package cmd wires up the CLI flags and dispatches to the pairing core.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"wapair/config"
	"wapair/internal/core"
	"wapair/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X wapair/cmd.version=1.1.0"
var version = "1.0.0" //nolint:gochecknoglobals

type action int

const (
	actionRun action = iota
	actionHelp
	actionVersion
)

// Execute parses args and runs one pairing flow.
func Execute(ctx context.Context, args []string) error {
	cfg, act, fs, err := parseConfig(args)
	if err != nil {
		return err
	}

	switch act {
	case actionHelp:
		printUsage(fs)
		return nil
	case actionVersion:
		fmt.Printf("wapair %s\n", version)
		return nil
	}

	logger := util.NewLogger(cfg.Verbose)

	// ── dry run ──────────────────────────────────────────────────
	if cfg.DryRun {
		printPlan(os.Stdout, cfg)
		return nil
	}

	// ── build & run ──────────────────────────────────────────────
	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// parseConfig layers defaults, the .env file, WAPAIR_* variables and
// finally the command line, then validates the result.
func parseConfig(args []string) (*config.Config, action, *flag.FlagSet, error) {
	// The env file has to be known before the environment is read, so
	// it gets a lenient pre-pass of its own.
	pre := flag.NewFlagSet("wapair", flag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.SetOutput(io.Discard)
	pre.Usage = func() {}
	envFile := pre.String("env-file", config.DefaultEnvFile, "")
	_ = pre.Parse(args)

	if err := config.LoadDotEnv(*envFile); err != nil {
		return nil, actionRun, nil, fmt.Errorf("env file: %w", err)
	}

	cfg := config.Default()
	config.LoadFromEnv(cfg)
	envVerbose := cfg.Verbose

	fs := flag.NewFlagSet("wapair", flag.ContinueOnError)

	// ── pairing channel ──────────────────────────────────────────
	fs.StringVarP(&cfg.Endpoint, "endpoint", "e", cfg.Endpoint, "Pairing daemon websocket URL")
	fs.DurationVar(&cfg.Heartbeat, "heartbeat", cfg.Heartbeat, "Interval between __ping__ frames")
	fs.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "Websocket handshake timeout")
	fs.DurationVar(&cfg.CloseGrace, "close-grace", cfg.CloseGrace, "Wait this long for the daemon's close frame")
	fs.IntVar(&cfg.Retry, "retry", cfg.Retry, "Re-pair up to N times after a lost connection")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "Reach the daemon via SSH gateway [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	fs.StringVarP(&cfg.QROut, "qr-out", "o", cfg.QROut, "Write the code image to this file (empty disables)")
	fs.BoolVar(&cfg.NoColor, "no-color", cfg.NoColor, "Disable colored output")
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Validate configuration and exit")
	fs.String("env-file", *envFile, "Load variables from this file first")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return nil, actionRun, fs, err
	}
	if !fs.Changed("verbose") {
		cfg.Verbose = envVerbose
	}

	if showHelp {
		return cfg, actionHelp, fs, nil
	}
	if showVersion {
		return cfg, actionVersion, fs, nil
	}
	if fs.NArg() > 0 {
		return nil, actionRun, fs, fmt.Errorf("unexpected argument %q (use -e to set the endpoint)", fs.Arg(0))
	}

	// ── tunnel spec ──────────────────────────────────────────────
	if cfg.TunnelSpec != "" {
		user, host, port, err := config.ParseTunnelSpec(cfg.TunnelSpec)
		if err != nil {
			return nil, actionRun, fs, fmt.Errorf("tunnel: %w", err)
		}
		if user == "" {
			user = os.Getenv("USER")
		}
		cfg.TunnelEnabled = true
		cfg.TunnelUser = user
		cfg.TunnelHost = host
		cfg.TunnelPort = port
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return nil, actionRun, fs, err
	}
	return cfg, actionRun, fs, nil
}

// ── helpers ──────────────────────────────────────────────────────────

func printPlan(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "endpoint:   %s\n", cfg.Endpoint)
	fmt.Fprintf(w, "heartbeat:  %s\n", cfg.Heartbeat)
	fmt.Fprintf(w, "handshake:  %s\n", cfg.HandshakeTimeout)
	fmt.Fprintf(w, "retry:      %d\n", cfg.Retry)
	if cfg.TunnelEnabled {
		fmt.Fprintf(w, "tunnel:     %s@%s\n", cfg.TunnelUser, util.FormatAddr(cfg.TunnelHost, cfg.TunnelPort))
	}
	qr := cfg.QROut
	if qr == "" {
		qr = "(not saved)"
	}
	fmt.Fprintf(w, "qr image:   %s\n", qr)
}

// ExitCode maps an Execute error to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `wapair – device pairing client v%s

Connects to a pairing daemon, shows the QR code it sends and waits
until the phone has scanned it.

Usage:
  wapair [options]

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  WAPAIR_ENDPOINT, WAPAIR_HEARTBEAT, WAPAIR_RETRY, WAPAIR_QR_OUT,
  WAPAIR_TUNNEL, WAPAIR_SSH_KEY, ... (also read from --env-file)

Examples:
  wapair                                      Pair with the local daemon
  wapair -e wss://pair.example.com/ws         Pair with a remote daemon
  wapair -T admin@bastion -o /tmp/qr.png      Daemon behind an SSH gateway
  wapair --retry 5 -v                         Re-pair on dropped connections
`)
}
