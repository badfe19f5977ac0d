package config

// loader.go - configuration loading from .env files and environment
// variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables, then a .env file  (this file)
//   3. Defaults   (defaults.go)

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ── .env ─────────────────────────────────────────────────────────────

// LoadDotEnv reads KEY=VALUE pairs from path into the process
// environment.  Variables already set in the environment are left
// alone, and a missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the WAPAIR_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept Go
// syntax ("30s") or a bare number of seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("WAPAIR_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if d := envDuration("WAPAIR_HEARTBEAT"); d > 0 {
		cfg.Heartbeat = d
	}
	if d := envDuration("WAPAIR_HANDSHAKE_TIMEOUT"); d > 0 {
		cfg.HandshakeTimeout = d
	}
	if d := envDuration("WAPAIR_CLOSE_GRACE"); d > 0 {
		cfg.CloseGrace = d
	}
	if v := envInt("WAPAIR_RETRY"); v > 0 {
		cfg.Retry = v
	}
	if v := os.Getenv("WAPAIR_QR_OUT"); v != "" {
		cfg.QROut = v
	}
	if envBool("WAPAIR_NO_COLOR") || os.Getenv("NO_COLOR") != "" {
		cfg.NoColor = true
	}

	// SSH tunnel
	if v := os.Getenv("WAPAIR_TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("WAPAIR_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("WAPAIR_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("WAPAIR_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("WAPAIR_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("WAPAIR_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	if v := envInt("WAPAIR_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return 0
}
