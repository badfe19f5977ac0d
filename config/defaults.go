package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, .env files, and environment variable loading.

const (
	// DefaultEndpoint is where the reference pairing daemon listens.
	DefaultEndpoint = "ws://127.0.0.1:10001/ws"

	// DefaultHeartbeat is the __ping__ interval.  It only has to beat
	// the idle timeout of proxies between client and daemon.
	DefaultHeartbeat = 30 * time.Second

	// DefaultHandshakeTimeout bounds the websocket upgrade.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultCloseGrace is how long a locally initiated close waits for
	// the peer's close frame before the socket is dropped.
	DefaultCloseGrace = 5 * time.Second

	// DefaultQROut is the file the code image is written to.
	DefaultQROut = "wapair-qr.png"

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultSSHConnTimeout is the SSH gateway connection timeout.
	DefaultSSHConnTimeout = 30 * time.Second

	// DefaultRetryInitialDelay and DefaultRetryMaxDelay bound the
	// backoff between re-pair attempts.
	DefaultRetryInitialDelay = 1 * time.Second
	DefaultRetryMaxDelay     = 30 * time.Second

	// DefaultEnvFile is read before the environment is consulted.
	DefaultEnvFile = ".env"
)
