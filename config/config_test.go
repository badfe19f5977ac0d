package config

import (
	"strings"
	"testing"
	"time"

	wperr "wapair/internal/errors"
)

// ── ParseTunnelSpec ──────────────────────────────────────────────────

func TestParseTunnelSpec(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantUser string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"full", "admin@bastion.example.com:2222", "admin", "bastion.example.com", 2222, false},
		{"no port", "root@gateway", "root", "gateway", 22, false},
		{"no user", "jump-host:2200", "", "jump-host", 2200, false},
		{"host only", "gateway.local", "", "gateway.local", 22, false},
		{"bad port", "user@host:999999", "", "", 0, true},
		{"empty", "", "", "", 0, true},
		{"colon only", ":", "", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, host, port, err := ParseTunnelSpec(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr = %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if user != tt.wantUser || host != tt.wantHost || port != tt.wantPort {
				t.Errorf("got (%q, %q, %d), want (%q, %q, %d)",
					user, host, port, tt.wantUser, tt.wantHost, tt.wantPort)
			}
		})
	}
}

// ── Default ──────────────────────────────────────────────────────────

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Endpoint != "ws://127.0.0.1:10001/ws" {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.Heartbeat != 30*time.Second {
		t.Errorf("Heartbeat = %v, want 30s", cfg.Heartbeat)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

// ── Config.Validate ──────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	valid := func(mut func(*Config)) Config {
		c := *Default()
		mut(&c)
		return c
	}

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		wantField string
	}{
		{
			name: "defaults",
			cfg:  valid(func(*Config) {}),
		},
		{
			name: "wss endpoint",
			cfg:  valid(func(c *Config) { c.Endpoint = "wss://pair.example.com/ws" }),
		},
		{
			name:      "empty endpoint",
			cfg:       valid(func(c *Config) { c.Endpoint = "" }),
			wantErr:   true,
			wantField: "endpoint",
		},
		{
			name:      "http endpoint",
			cfg:       valid(func(c *Config) { c.Endpoint = "http://127.0.0.1:10001/ws" }),
			wantErr:   true,
			wantField: "endpoint",
		},
		{
			name:      "zero heartbeat",
			cfg:       valid(func(c *Config) { c.Heartbeat = 0 }),
			wantErr:   true,
			wantField: "heartbeat",
		},
		{
			name:      "negative retry",
			cfg:       valid(func(c *Config) { c.Retry = -1 }),
			wantErr:   true,
			wantField: "retry",
		},
		{
			name: "tunnel",
			cfg: valid(func(c *Config) {
				c.TunnelEnabled, c.TunnelHost, c.TunnelUser = true, "gw", "u"
			}),
		},
		{
			name:      "tunnel no host",
			cfg:       valid(func(c *Config) { c.TunnelEnabled = true }),
			wantErr:   true,
			wantField: "tunnel",
		},
		{
			name:      "ssh key without tunnel",
			cfg:       valid(func(c *Config) { c.SSHKeyPath = "/tmp/id" }),
			wantErr:   true,
			wantField: "ssh-key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr = %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			var ce *wperr.ConfigError
			if !wperr.As(err, &ce) {
				t.Fatalf("expected *ConfigError, got %T", err)
			}
			if ce.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", ce.Field, tt.wantField)
			}
		})
	}
}

func TestValidate_EndpointHint(t *testing.T) {
	cfg := Default()
	cfg.Endpoint = "tcp://127.0.0.1:10001"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "hint: expected something like ws://") {
		t.Errorf("missing hint: %v", err)
	}
}
