// Package session owns one pairing connection: its channel, its
// heartbeat, and the ordered stream of lifecycle and message events the
// controller consumes.
//
// A Session is single-use.  It moves New → Connecting → Open → Closing →
// Closed exactly once, and its event stream always ends with one
// EventClose followed by the channel being closed.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	wperr "wapair/internal/errors"
	"wapair/internal/metrics"
	"wapair/internal/protocol"
	"wapair/internal/transport"
	"wapair/util"
)

// DefaultHeartbeat is the ping interval used when Config leaves it zero.
const DefaultHeartbeat = 30 * time.Second

// State is the lifecycle stage of a Session.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventKind discriminates Event.
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventError
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// CloseInfo describes how the channel ended.
type CloseInfo struct {
	WasClean bool
	Code     int
	Reason   string
}

// Event is one item of a session's event stream.  Message is set for
// EventMessage, Err for EventError and Close for EventClose.
type Event struct {
	Kind    EventKind
	Message protocol.Message
	Err     error
	Close   CloseInfo
}

// Config tunes a Session.
type Config struct {
	// Heartbeat is the interval between __ping__ frames while open.
	Heartbeat time.Duration
}

// Session is one connection attempt.  All methods are safe for
// concurrent use.
type Session struct {
	transport transport.Transport
	heartbeat time.Duration
	logger    *util.Logger
	metrics   *metrics.Collector

	events chan Event

	mu         sync.Mutex
	state      State
	ch         transport.Channel
	cancelDial context.CancelFunc
	stopWatch  func() bool
	hbStop     chan struct{}
	hbDone     chan struct{}
}

// New creates a session that will open channels through t.  A nil
// logger or collector is allowed.
func New(t transport.Transport, cfg Config, logger *util.Logger, m *metrics.Collector) *Session {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Session{
		transport: t,
		heartbeat: cfg.Heartbeat,
		// Short random id tells apart the log lines of successive attempts.
		logger:    logger.Named(uuid.NewString()[:8]),
		metrics:   m,
		events:    make(chan Event, 16),
	}
}

// Events returns the session's event stream.  It is closed after the
// EventClose has been delivered.
func (s *Session) Events() <-chan Event { return s.events }

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HeartbeatActive reports whether the ping timer is running.
func (s *Session) HeartbeatActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hbStop != nil
}

// Open starts connecting to url in the background and returns
// immediately.  It returns ErrSessionActive if the session was already
// opened and ErrSessionClosed if it was closed before opening.
//
// Cancelling ctx closes the session.
func (s *Session) Open(ctx context.Context, url string) error {
	s.mu.Lock()
	switch s.state {
	case StateNew:
	case StateClosed:
		s.mu.Unlock()
		return wperr.ErrSessionClosed
	default:
		s.mu.Unlock()
		return wperr.ErrSessionActive
	}
	dialCtx, cancel := context.WithCancel(ctx)
	s.state = StateConnecting
	s.cancelDial = cancel
	s.stopWatch = context.AfterFunc(ctx, func() { _ = s.Close() })
	s.mu.Unlock()

	s.logger.Verbose("connecting to %s", url)
	go s.run(ctx, dialCtx, url)
	return nil
}

// Send writes one frame.  It fails with ErrNotConnected unless the
// session is open.
func (s *Session) Send(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return wperr.ErrNotConnected
	}
	return s.ch.WriteFrame(frame)
}

// Close requests shutdown.  The heartbeat is stopped before Close
// returns; the outcome arrives as EventClose.  Closing a session that
// is already closing or closed does nothing.
func (s *Session) Close() error {
	s.mu.Lock()
	switch s.state {
	case StateNew:
		s.state = StateClosed
		s.mu.Unlock()
		close(s.events)
		return nil

	case StateConnecting:
		s.state = StateClosing
		cancel := s.cancelDial
		s.mu.Unlock()
		s.logger.Debug("close requested during handshake")
		cancel()
		return nil

	case StateOpen:
		s.state = StateClosing
		ch := s.ch
		s.mu.Unlock()
		s.stopHeartbeat()
		s.logger.Debug("closing channel")
		return ch.Close()

	default:
		s.mu.Unlock()
		return nil
	}
}

// ── internals ────────────────────────────────────────────────────────

func (s *Session) run(ctx, dialCtx context.Context, url string) {
	defer close(s.events)

	ch, err := s.transport.Open(dialCtx, url)

	s.mu.Lock()
	s.cancelDial()
	aborted := s.state == StateClosing
	if err != nil {
		s.state = StateClosed
		s.mu.Unlock()
		s.stopWatch()

		info := CloseInfo{Code: transport.CloseAbnormal, Reason: "closed during handshake"}
		if !aborted {
			s.logger.Verbose("connect failed: %v", err)
			s.metrics.RecordError(err.Error())
			s.emit(ctx, Event{Kind: EventError, Err: err})
			info.Reason = err.Error()
		}
		s.emit(ctx, Event{Kind: EventClose, Close: info})
		return
	}

	s.ch = ch
	s.metrics.SessionOpened()
	if aborted {
		// Close won the race with the handshake; finish it now and let
		// the read loop collect the peer's answer.
		s.mu.Unlock()
		_ = ch.Close()
	} else {
		s.state = StateOpen
		s.hbStop = make(chan struct{})
		s.hbDone = make(chan struct{})
		go s.heartbeatLoop(s.hbStop, s.hbDone)
		s.mu.Unlock()

		s.logger.Verbose("channel open, heartbeat every %s", s.heartbeat)
		s.emit(ctx, Event{Kind: EventOpen})
	}

	s.readLoop(ctx, ch)
}

func (s *Session) readLoop(ctx context.Context, ch transport.Channel) {
	for {
		frame, err := ch.ReadFrame()
		if err != nil {
			s.finish(ctx, ch, err)
			return
		}
		s.metrics.FrameReceived()

		if protocol.IsControl(frame) {
			s.metrics.FrameDiscarded()
			continue
		}

		msg, err := protocol.Decode([]byte(frame))
		if err != nil {
			s.metrics.FrameDiscarded()
			s.logger.Debug("discarding frame: %v", &wperr.ProtocolError{Frame: frame, Err: err})
			continue
		}

		if s.State() != StateOpen {
			s.metrics.FrameDiscarded()
			s.logger.Debug("discarding %s message received while closing", msg.Kind())
			continue
		}
		s.emit(ctx, Event{Kind: EventMessage, Message: msg})
	}
}

// finish turns the read error that ended the channel into the final
// events.  The heartbeat is joined before EventClose is emitted.
func (s *Session) finish(ctx context.Context, ch transport.Channel, err error) {
	s.mu.Lock()
	s.state = StateClosing
	s.mu.Unlock()
	s.stopHeartbeat()

	info := CloseInfo{Code: transport.CloseAbnormal}
	var ce *transport.CloseError
	if errors.As(err, &ce) {
		info = CloseInfo{WasClean: ce.Clean, Code: ce.Code, Reason: ce.Reason}
	} else {
		s.metrics.RecordError(err.Error())
		s.emit(ctx, Event{Kind: EventError, Err: err})
		info.Reason = err.Error()
		_ = ch.Close()
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.stopWatch()
	s.metrics.SessionClosed()

	if info.WasClean {
		s.logger.Verbose("closed cleanly (code %d) %s", info.Code, info.Reason)
	} else {
		s.logger.Verbose("connection lost (code %d) %s", info.Code, info.Reason)
	}
	s.emit(ctx, Event{Kind: EventClose, Close: info})
}

func (s *Session) heartbeatLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	tick := time.NewTicker(s.heartbeat)
	defer tick.Stop()

	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			s.ping()
		}
	}
}

func (s *Session) ping() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return
	}
	if err := s.ch.WriteFrame(protocol.Ping); err != nil {
		s.logger.Verbose("heartbeat failed: %v", err)
		return
	}
	s.metrics.HeartbeatSent()
}

// stopHeartbeat stops the ping timer and waits for its goroutine.
// Safe to call any number of times.
func (s *Session) stopHeartbeat() {
	s.mu.Lock()
	stop, done := s.hbStop, s.hbDone
	s.hbStop, s.hbDone = nil, nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// emit delivers ev unless ctx has already been abandoned by the
// consumer.
func (s *Session) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
		return
	default:
	}
	select {
	case s.events <- ev:
	case <-ctx.Done():
		s.logger.Debug("dropping %s event, context done", ev.Kind)
	}
}
