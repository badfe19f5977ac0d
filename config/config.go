// Package config defines the runtime configuration for wapair and provides
// helpers for parsing tunnel specifications.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	wperr "wapair/internal/errors"
	"wapair/util"
)

// Config holds every tuneable for a single wapair run.
type Config struct {
	// ── Pairing channel ──────────────────────────────────────────────
	Endpoint         string        // ws:// or wss:// URL of the pairing daemon
	Heartbeat        time.Duration // __ping__ interval while the channel is open
	HandshakeTimeout time.Duration
	CloseGrace       time.Duration // how long to wait for the peer's close frame
	Retry            int           // re-pair attempts after an unclean disconnect

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Output ───────────────────────────────────────────────────────
	QROut   string // file the decoded code image is written to
	NoColor bool
	Verbose int
	DryRun  bool
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		Endpoint:         DefaultEndpoint,
		Heartbeat:        DefaultHeartbeat,
		HandshakeTimeout: DefaultHandshakeTimeout,
		CloseGrace:       DefaultCloseGrace,
		QROut:            DefaultQROut,
	}
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("tunnel host is required")
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return &wperr.ConfigError{Field: "endpoint", Message: "required"}
	}
	if _, err := util.ParseEndpoint(c.Endpoint); err != nil {
		return &wperr.ConfigError{
			Field:   "endpoint",
			Value:   c.Endpoint,
			Message: err.Error(),
			Hint:    "expected something like " + DefaultEndpoint,
		}
	}

	if c.Heartbeat <= 0 {
		return &wperr.ConfigError{
			Field:   "heartbeat",
			Value:   c.Heartbeat,
			Message: "must be positive",
			Hint:    "intermediaries drop idle connections; the default is " + DefaultHeartbeat.String(),
		}
	}

	if c.HandshakeTimeout < 0 {
		return &wperr.ConfigError{Field: "handshake-timeout", Value: c.HandshakeTimeout, Message: "must not be negative"}
	}

	if c.Retry < 0 {
		return &wperr.ConfigError{Field: "retry", Value: c.Retry, Message: "must not be negative"}
	}

	if c.TunnelEnabled && c.TunnelHost == "" {
		return &wperr.ConfigError{Field: "tunnel", Message: "tunnel host is required"}
	}

	if c.SSHKeyPath != "" && !c.TunnelEnabled {
		return &wperr.ConfigError{
			Field:   "ssh-key",
			Value:   c.SSHKeyPath,
			Message: "only meaningful with -T",
			Hint:    "add -T user@bastion to pair through an SSH gateway",
		}
	}

	return nil
}
