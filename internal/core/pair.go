package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wapair/internal/capability"
	wperr "wapair/internal/errors"
	"wapair/internal/metrics"
	"wapair/internal/pairing"
	"wapair/internal/retry"
	"wapair/internal/transport"
	"wapair/util"
)

// PairMode runs the pairing flow until the daemon answers, the
// connection is lost for good, or the context is cancelled.
type PairMode struct {
	// Dialer is closed when Run returns.  May be nil when Transport
	// manages its own connections.
	Dialer    transport.Dialer
	Transport transport.Transport
	UI        capability.UI
	Endpoint  string
	Heartbeat time.Duration

	// Retry paces new attempts after an unclean disconnect.  Nil
	// means a single attempt.
	Retry *retry.Backoff

	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Run starts the controller and drives one or more attempts.  It
// returns nil once the device is authorized, an error wrapping
// ErrPairingFailed when the daemon rejects the pairing, and one
// wrapping ErrNotConnected when the connection ends without an answer.
func (m *PairMode) Run(ctx context.Context) error {
	if m.Dialer != nil {
		defer m.Dialer.Close()
	}
	defer func() {
		if m.Metrics != nil {
			m.Logger.Debug("metrics: %s", m.Metrics.JSON())
		}
	}()

	results := make(chan pairing.Result, 1)
	ctrl := pairing.New(m.UI, m.Transport, pairing.Config{
		Endpoint:  m.Endpoint,
		Heartbeat: m.Heartbeat,
		Logger:    m.Logger,
		Metrics:   m.Metrics,
		OnResult:  func(r pairing.Result) { results <- r },
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(runCtx) }()
	defer func() {
		cancel()
		<-done
	}()

	attempt := func(n int) error {
		if n > 1 {
			m.Logger.Info("re-pairing, attempt %d", n)
		}
		ctrl.StartPairing()
		select {
		case r := <-results:
			return outcome(r)
		case <-ctx.Done():
			return retry.Permanent(ctx.Err())
		}
	}

	if m.Retry == nil {
		err := attempt(1)
		if retry.IsPermanent(err) {
			err = errors.Unwrap(err)
		}
		return err
	}

	b := *m.Retry
	b.OnRetry = func(n int, wait time.Duration, err error) {
		m.Logger.Warn("attempt %d: %v; retrying in %s", n, err, wait.Round(time.Millisecond))
	}
	return b.Do(ctx, attempt)
}

// outcome maps a finished attempt to Run's error contract.  Only an
// unclean close is worth another attempt, and not when the transport
// error behind it cannot heal by itself (a rejected handshake, an
// unknown host, failed SSH authentication).
func outcome(r pairing.Result) error {
	switch r.State {
	case pairing.Authorized:
		return nil
	case pairing.Failed:
		return retry.Permanent(fmt.Errorf("%w: %s", wperr.ErrPairingFailed, r.Reason))
	}

	err := fmt.Errorf("%w: connection closed (code %d)", wperr.ErrNotConnected, r.Close.Code)
	if r.Close.Reason != "" {
		err = fmt.Errorf("%w: connection closed (code %d): %s", wperr.ErrNotConnected, r.Close.Code, r.Close.Reason)
	}
	if r.Close.WasClean || (r.Err != nil && !wperr.IsRetryable(r.Err)) {
		return retry.Permanent(err)
	}
	return err
}
