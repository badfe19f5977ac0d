package core

import (
	"bytes"
	"testing"

	"wapair/config"
	"wapair/internal/transport"
	"wapair/util"
)

// TestBuild_Direct verifies Build produces a PairMode that dials the
// endpoint directly.
func TestBuild_Direct(t *testing.T) {
	cfg := config.Default()
	logger := util.NewLogger(0)

	mode, err := Build(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	pm, ok := mode.(*PairMode)
	if !ok {
		t.Fatalf("expected *PairMode, got %T", mode)
	}
	if _, ok := pm.Dialer.(*transport.TCPDialer); !ok {
		t.Errorf("expected *TCPDialer, got %T", pm.Dialer)
	}
	if pm.Endpoint != config.DefaultEndpoint || pm.Heartbeat != config.DefaultHeartbeat {
		t.Errorf("endpoint/heartbeat = %s/%s", pm.Endpoint, pm.Heartbeat)
	}
	if pm.Retry != nil {
		t.Error("retry should be disabled by default")
	}
}

// TestBuild_Tunnel verifies -T routes the websocket through SSH.
func TestBuild_Tunnel(t *testing.T) {
	cfg := config.Default()
	cfg.TunnelEnabled = true
	cfg.TunnelUser = "pair"
	cfg.TunnelHost = "bastion"
	cfg.TunnelPort = 22

	pm, err := BuildWithOutput(cfg, util.NewLogger(0), &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := pm.Dialer.(*transport.SSHDialer); !ok {
		t.Errorf("expected *SSHDialer, got %T", pm.Dialer)
	}
	ws, ok := pm.Transport.(*transport.WebSocket)
	if !ok || ws.Dialer != pm.Dialer {
		t.Error("websocket must dial through the tunnel")
	}
}

// TestBuild_Retry verifies --retry N allows N re-pairs.
func TestBuild_Retry(t *testing.T) {
	cfg := config.Default()
	cfg.Retry = 3

	pm, err := BuildWithOutput(cfg, util.NewLogger(0), &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if pm.Retry == nil || pm.Retry.MaxAttempts != 4 {
		t.Fatalf("retry = %+v, want 4 attempts", pm.Retry)
	}
	if pm.Retry.InitialDelay != config.DefaultRetryInitialDelay {
		t.Errorf("initial delay = %s", pm.Retry.InitialDelay)
	}
}

// TestBuild_BadEndpoint verifies a non-websocket endpoint is rejected.
func TestBuild_BadEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Endpoint = "http://127.0.0.1:10001/ws"

	if _, err := Build(cfg, util.NewLogger(0)); err == nil {
		t.Fatal("expected error for http:// endpoint")
	}
}
