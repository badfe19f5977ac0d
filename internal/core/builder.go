package core

import (
	"fmt"
	"io"
	"os"

	"wapair/config"
	"wapair/internal/capability"
	"wapair/internal/metrics"
	"wapair/internal/retry"
	"wapair/internal/transport"
	"wapair/tunnel"
	"wapair/util"
)

// Build constructs the pairing mode for cfg.  Output goes to stdout;
// use BuildWithOutput to redirect it.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	return BuildWithOutput(cfg, logger, os.Stdout)
}

// BuildWithOutput is Build with the terminal UI writing to out.
func BuildWithOutput(cfg *config.Config, logger *util.Logger, out io.Writer) (*PairMode, error) {
	if _, err := util.ParseEndpoint(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("endpoint: %w", err)
	}

	dialer := buildDialer(cfg, logger)
	return &PairMode{
		Dialer: dialer,
		Transport: &transport.WebSocket{
			Dialer:           dialer,
			HandshakeTimeout: cfg.HandshakeTimeout,
			CloseGrace:       cfg.CloseGrace,
		},
		UI:        capability.NewTerminal(out, cfg.QROut, cfg.NoColor, logger),
		Endpoint:  cfg.Endpoint,
		Heartbeat: cfg.Heartbeat,
		Retry:     buildRetry(cfg),
		Logger:    logger,
		Metrics:   metrics.New(),
	}, nil
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer creates the right transport.Dialer for the given config.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.TunnelEnabled {
		return transport.NewSSHDialer(&tunnel.SSHConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   config.DefaultSSHConnTimeout,
			// Keep the gateway session warmer than the websocket so
			// the tunnel is never the first thing to go idle.
			KeepAlive: cfg.Heartbeat / 2,
		}, logger)
	}

	return &transport.TCPDialer{
		Timeout:   cfg.HandshakeTimeout,
		KeepAlive: cfg.Heartbeat,
	}
}

// buildRetry returns the re-pair policy, or nil for a single attempt.
func buildRetry(cfg *config.Config) *retry.Backoff {
	if cfg.Retry <= 0 {
		return nil
	}
	b := retry.Attempts(cfg.Retry)
	b.InitialDelay = config.DefaultRetryInitialDelay
	b.MaxDelay = config.DefaultRetryMaxDelay
	return b
}
