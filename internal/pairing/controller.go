// Package pairing drives one device-pairing flow: it opens a session
// on request, interprets the daemon's messages, and tells the UI what
// to show.
//
// The controller is single-writer.  Run owns the pairing state and the
// current session; StartPairing and the accessors only post requests
// or read snapshots, so no UI callback ever runs concurrently with
// another.
package pairing

import (
	"context"
	"sync"
	"time"

	"wapair/internal/capability"
	"wapair/internal/metrics"
	"wapair/internal/protocol"
	"wapair/internal/session"
	"wapair/internal/transport"
	"wapair/util"
)

// State is the controller's view of the pairing attempt.
type State int

const (
	Idle State = iota
	Connecting
	AwaitingQR
	Authorized
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case AwaitingQR:
		return "awaiting-qr"
	case Authorized:
		return "authorized"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends an attempt with an answer from the
// daemon.  Such states survive the session's close.
func (s State) Terminal() bool { return s == Authorized || s == Failed }

// GenericAuthorized is shown when the account message names no device.
const GenericAuthorized = "authorized"

// Summary renders the identity line for an account message.
func Summary(a *protocol.Account) string {
	switch {
	case a.HasPushname() && a.Wid != "":
		return a.Pushname + ":" + a.Wid
	case a.Wid != "":
		return a.Wid
	default:
		return GenericAuthorized
	}
}

// Result describes how one attempt ended.  It is reported after the
// attempt's session has delivered its close.
type Result struct {
	State   State // Authorized, Failed or Closed
	Summary string
	Reason  string
	Close   session.CloseInfo

	// Err is the first transport error of the attempt, if the session
	// reported one before closing.
	Err error
}

// Config wires a Controller.
type Config struct {
	Endpoint  string
	Heartbeat time.Duration
	Logger    *util.Logger
	Metrics   *metrics.Collector

	// OnResult, if set, is called from Run once per finished attempt.
	OnResult func(Result)
}

// Controller is a pairing state machine bound to one UI.
type Controller struct {
	ui        capability.UI
	transport transport.Transport
	cfg       Config
	logger    *util.Logger

	starts chan struct{}

	mu      sync.Mutex
	state   State
	current *session.Session

	// Touched only by Run.
	summary string
	reason  string
	err     error
}

// New returns an idle controller.  Nothing happens until Run is
// started and StartPairing is called.
func New(ui capability.UI, t transport.Transport, cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Controller{
		ui:        ui,
		transport: t,
		cfg:       cfg,
		logger:    logger.Named("pairing"),
		starts:    make(chan struct{}, 1),
	}
}

// StartPairing asks Run to begin a new attempt.  It never blocks;
// requests made while one is already pending collapse into it, and a
// request made while an attempt is in progress is ignored.
func (c *Controller) StartPairing() {
	select {
	case c.starts <- struct{}{}:
	default:
	}
}

// State returns the current pairing state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HeartbeatActive reports whether the current session is pinging.
func (c *Controller) HeartbeatActive() bool {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	return s != nil && s.HeartbeatActive()
}

// Run processes start requests and session events until ctx is done.
// On return the current session, if any, has been closed and drained.
func (c *Controller) Run(ctx context.Context) error {
	var (
		events  <-chan session.Event
		pending bool
	)

	for {
		select {
		case <-ctx.Done():
			c.shutdown(events)
			return ctx.Err()

		case <-c.starts:
			if events == nil {
				events = c.begin(ctx)
				continue
			}
			if st := c.State(); st == Connecting || st == AwaitingQR {
				c.logger.Debug("start ignored, attempt already %s", st)
				continue
			}
			// The previous session is still winding down.
			c.logger.Debug("start deferred until previous session closes")
			pending = true

		case ev, ok := <-events:
			if !ok {
				events = nil
				c.mu.Lock()
				c.current = nil
				c.mu.Unlock()
				if pending {
					pending = false
					events = c.begin(ctx)
				}
				continue
			}
			c.handle(ev)
		}
	}
}

func (c *Controller) begin(ctx context.Context) <-chan session.Event {
	s := session.New(c.transport, session.Config{Heartbeat: c.cfg.Heartbeat}, c.logger, c.cfg.Metrics)
	c.summary, c.reason, c.err = "", "", nil

	c.mu.Lock()
	c.current = s
	c.state = Connecting
	c.mu.Unlock()

	c.logger.Info("connecting to %s", c.cfg.Endpoint)
	if err := s.Open(ctx, c.cfg.Endpoint); err != nil {
		// Unreachable for a fresh session.
		c.logger.Error("open session: %v", err)
	}
	return s.Events()
}

func (c *Controller) handle(ev session.Event) {
	switch ev.Kind {
	case session.EventOpen:
		if c.State() == Connecting {
			c.setState(AwaitingQR)
			c.logger.Verbose("connected, waiting for a code")
		}

	case session.EventMessage:
		c.dispatch(ev.Message)

	case session.EventError:
		c.logger.Warn("connection error: %v", ev.Err)
		if c.err == nil {
			c.err = ev.Err
		}
		if !c.State().Terminal() {
			c.ui.ResetToIdle()
		}

	case session.EventClose:
		c.closed(ev.Close)
	}
}

func (c *Controller) dispatch(msg protocol.Message) {
	if st := c.State(); st != AwaitingQR {
		c.logger.Debug("ignoring %s message in state %s", msg.Kind(), st)
		return
	}

	switch m := msg.(type) {
	case *protocol.QR:
		c.logger.Verbose("code received")
		c.ui.ShowQR(m.ImageQrCode)

	case *protocol.Account:
		c.summary = Summary(m)
		c.logger.Info("paired as %s", c.summary)
		c.ui.ShowAuthorized(c.summary)
		c.settle(Authorized)

	case *protocol.Failure:
		c.reason = m.Reason
		c.logger.Warn("daemon rejected pairing: %s", m.Reason)
		c.ui.ShowError(m.Reason)
		c.settle(Failed)
	}
}

func (c *Controller) closed(info session.CloseInfo) {
	st := c.State()
	switch {
	case st.Terminal():
		c.logger.Debug("session closed after %s (code %d)", st, info.Code)
	case info.WasClean:
		c.logger.Info("connection closed (code %d) %s", info.Code, info.Reason)
	default:
		c.logger.Warn("lost connection (code %d) %s", info.Code, info.Reason)
	}

	if !st.Terminal() {
		c.setState(Closed)
		c.ui.ResetToIdle()
		st = Closed
	}

	if c.cfg.OnResult != nil {
		c.cfg.OnResult(Result{State: st, Summary: c.summary, Reason: c.reason, Close: info, Err: c.err})
	}
}

// settle records a terminal answer and closes the session in the same
// critical section, so no observer sees a terminal state with the
// heartbeat still running.
func (c *Controller) settle(st State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = st
	if c.current != nil {
		if err := c.current.Close(); err != nil {
			c.logger.Debug("close session: %v", err)
		}
	}
}

func (c *Controller) closeCurrent() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		c.logger.Debug("close session: %v", err)
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// shutdown closes the live session and waits for its stream to end
// without reporting anything to the UI.
func (c *Controller) shutdown(events <-chan session.Event) {
	c.closeCurrent()
	if events != nil {
		for range events {
		}
	}
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}
