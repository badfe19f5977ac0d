package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	wperr "wapair/internal/errors"
	"wapair/internal/metrics"
	"wapair/internal/protocol"
	"wapair/internal/transport"
)

// ── fakes ────────────────────────────────────────────────────────────

// fakeChannel is a scripted transport.Channel.  Frames pushed with
// deliver are returned by ReadFrame; end terminates the read side.
type fakeChannel struct {
	frames chan string
	ended  chan error

	mu          sync.Mutex
	writes      []string
	closed      bool
	writesAfter int
	endOnce     sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{frames: make(chan string, 16), ended: make(chan error, 1)}
}

func (c *fakeChannel) ReadFrame() (string, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.ended:
		return "", err
	}
}

func (c *fakeChannel) WriteFrame(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.writesAfter++
		return errors.New("write on closed channel")
	}
	c.writes = append(c.writes, frame)
	return nil
}

// Close answers with a clean 1000, like a cooperative peer.
func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.end(&transport.CloseError{Code: transport.CloseNormal, Clean: true})
	return nil
}

func (c *fakeChannel) deliver(frame string) { c.frames <- frame }

func (c *fakeChannel) end(err error) {
	c.endOnce.Do(func() { c.ended <- err })
}

func (c *fakeChannel) pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.writes {
		if w == protocol.Ping {
			n++
		}
	}
	return n
}

// fakeTransport hands out ch, fails with err, or blocks until the
// dial context is cancelled when hold is set.
type fakeTransport struct {
	ch   *fakeChannel
	err  error
	hold bool
	urls []string
}

func (t *fakeTransport) Open(ctx context.Context, url string) (transport.Channel, error) {
	t.urls = append(t.urls, url)
	if t.hold {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if t.err != nil {
		return nil, t.err
	}
	return t.ch, nil
}

// ── helpers ──────────────────────────────────────────────────────────

func next(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func expectEnd(t *testing.T, s *Session) {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if ok {
			t.Fatalf("unexpected %s event after close", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event stream not closed")
	}
}

func openSession(t *testing.T, hb time.Duration) (*Session, *fakeChannel, *metrics.Collector) {
	t.Helper()
	ch := newFakeChannel()
	m := metrics.New()
	s := New(&fakeTransport{ch: ch}, Config{Heartbeat: hb}, nil, m)
	if err := s.Open(context.Background(), "ws://daemon/ws"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ev := next(t, s); ev.Kind != EventOpen {
		t.Fatalf("first event = %s, want open", ev.Kind)
	}
	return s, ch, m
}

// ── tests ────────────────────────────────────────────────────────────

func TestSession_MessageOrdering(t *testing.T) {
	s, ch, _ := openSession(t, time.Hour)

	ch.deliver(`{"type":"qr","imageQrCode":"one"}`)
	ch.deliver(`{"type":"qr","imageQrCode":"two"}`)
	ch.deliver(`{"type":"account","wid":"W1"}`)

	for _, want := range []string{"one", "two"} {
		ev := next(t, s)
		qr, ok := ev.Message.(*protocol.QR)
		if ev.Kind != EventMessage || !ok || qr.ImageQrCode != want {
			t.Fatalf("got %+v, want qr %q", ev, want)
		}
	}
	ev := next(t, s)
	if acc, ok := ev.Message.(*protocol.Account); !ok || acc.Wid != "W1" {
		t.Fatalf("got %+v, want account W1", ev)
	}

	ch.end(&transport.CloseError{Code: transport.CloseGoingAway, Reason: "bye", Clean: true})
	ev = next(t, s)
	if ev.Kind != EventClose {
		t.Fatalf("got %s, want close", ev.Kind)
	}
	if ev.Close != (CloseInfo{WasClean: true, Code: transport.CloseGoingAway, Reason: "bye"}) {
		t.Errorf("close info = %+v", ev.Close)
	}
	expectEnd(t, s)
	if s.State() != StateClosed {
		t.Errorf("state = %s, want closed", s.State())
	}
}

func TestSession_DiscardsControlAndMalformedFrames(t *testing.T) {
	s, ch, m := openSession(t, time.Hour)

	for _, f := range []string{protocol.Pong, "", "{not json", `{"type":"presence"}`, `[1,2]`} {
		ch.deliver(f)
	}
	ch.deliver(`{"type":"error","reason":"rejected"}`)

	ev := next(t, s)
	f, ok := ev.Message.(*protocol.Failure)
	if !ok || f.Reason != "rejected" {
		t.Fatalf("first surfaced event = %+v, want error message", ev)
	}
	if got := m.FramesDiscarded(); got != 5 {
		t.Errorf("discarded = %d, want 5", got)
	}
	if s.State() != StateOpen {
		t.Errorf("state = %s, want open", s.State())
	}
	_ = s.Close()
}

func TestSession_HeartbeatOnlyWhileOpen(t *testing.T) {
	s, ch, m := openSession(t, 5*time.Millisecond)

	if !s.HeartbeatActive() {
		t.Fatal("heartbeat should run while open")
	}
	deadline := time.Now().Add(2 * time.Second)
	for ch.pings() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ch.pings() < 3 {
		t.Fatalf("pings = %d, want at least 3", ch.pings())
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.HeartbeatActive() {
		t.Error("heartbeat still active after Close returned")
	}
	if ev := next(t, s); ev.Kind != EventClose || !ev.Close.WasClean {
		t.Fatalf("got %+v, want clean close", ev)
	}
	expectEnd(t, s)

	sent := ch.pings()
	time.Sleep(30 * time.Millisecond)
	if ch.pings() != sent {
		t.Errorf("pings grew from %d to %d after close", sent, ch.pings())
	}
	ch.mu.Lock()
	after := ch.writesAfter
	ch.mu.Unlock()
	if after != 0 {
		t.Errorf("%d writes attempted on the closed channel", after)
	}
	if got := m.HeartbeatsSent(); got != int64(sent) {
		t.Errorf("metrics heartbeats = %d, want %d", got, sent)
	}
}

func TestSession_HeartbeatStopsOnRemoteClose(t *testing.T) {
	s, ch, _ := openSession(t, 5*time.Millisecond)

	ch.end(&transport.CloseError{Code: transport.CloseAbnormal})
	ev := next(t, s)
	if ev.Kind != EventClose || ev.Close.WasClean || ev.Close.Code != transport.CloseAbnormal {
		t.Fatalf("got %+v, want unclean 1006", ev)
	}
	if s.HeartbeatActive() {
		t.Error("heartbeat active after close event")
	}
}

func TestSession_StartsNoTimerBeforeOpen(t *testing.T) {
	s := New(&fakeTransport{hold: true}, Config{Heartbeat: time.Millisecond}, nil, nil)
	if err := s.Open(context.Background(), "ws://daemon/ws"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if s.HeartbeatActive() {
		t.Error("heartbeat started while connecting")
	}
	if s.State() != StateConnecting {
		t.Errorf("state = %s, want connecting", s.State())
	}
	_ = s.Close()
}

func TestSession_CloseDuringHandshake(t *testing.T) {
	s := New(&fakeTransport{hold: true}, Config{}, nil, nil)
	if err := s.Open(context.Background(), "ws://daemon/ws"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	ev := next(t, s)
	if ev.Kind != EventClose {
		t.Fatalf("got %s, want close only", ev.Kind)
	}
	if ev.Close.WasClean {
		t.Error("aborted handshake reported as clean")
	}
	expectEnd(t, s)
}

func TestSession_DialFailureIsErrorThenClose(t *testing.T) {
	dialErr := wperr.Wrap("dial", "ws://daemon/ws", errors.New("connection refused"))
	s := New(&fakeTransport{err: dialErr}, Config{}, nil, nil)
	if err := s.Open(context.Background(), "ws://daemon/ws"); err != nil {
		t.Fatal(err)
	}

	ev := next(t, s)
	if ev.Kind != EventError || !errors.Is(ev.Err, dialErr) {
		t.Fatalf("got %+v, want dial error", ev)
	}
	ev = next(t, s)
	if ev.Kind != EventClose || ev.Close.WasClean {
		t.Fatalf("got %+v, want unclean close", ev)
	}
	expectEnd(t, s)
}

func TestSession_ReadFaultIsErrorThenClose(t *testing.T) {
	s, ch, m := openSession(t, time.Hour)

	fault := errors.New("connection reset by peer")
	ch.end(fault)

	ev := next(t, s)
	if ev.Kind != EventError || !errors.Is(ev.Err, fault) {
		t.Fatalf("got %+v, want transport error", ev)
	}
	ev = next(t, s)
	if ev.Kind != EventClose || ev.Close.WasClean || ev.Close.Code != transport.CloseAbnormal {
		t.Fatalf("got %+v, want unclean 1006", ev)
	}
	expectEnd(t, s)
	if m.ErrorCount() != 1 {
		t.Errorf("errors = %d, want 1", m.ErrorCount())
	}
	if m.ActiveSessions() != 0 {
		t.Errorf("active = %d, want 0", m.ActiveSessions())
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	s, _, _ := openSession(t, time.Hour)

	for i := 0; i < 3; i++ {
		if err := s.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i+1, err)
		}
	}
	if ev := next(t, s); ev.Kind != EventClose {
		t.Fatalf("got %s, want close", ev.Kind)
	}
	expectEnd(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("Close after closed: %v", err)
	}
}

func TestSession_OpenTwice(t *testing.T) {
	s, _, _ := openSession(t, time.Hour)
	defer s.Close()

	if err := s.Open(context.Background(), "ws://daemon/ws"); !errors.Is(err, wperr.ErrSessionActive) {
		t.Fatalf("second Open = %v, want ErrSessionActive", err)
	}
}

func TestSession_OpenAfterClose(t *testing.T) {
	s := New(&fakeTransport{ch: newFakeChannel()}, Config{}, nil, nil)
	_ = s.Close()
	expectEnd(t, s)

	if err := s.Open(context.Background(), "ws://daemon/ws"); !errors.Is(err, wperr.ErrSessionClosed) {
		t.Fatalf("Open = %v, want ErrSessionClosed", err)
	}
}

func TestSession_SendRequiresOpen(t *testing.T) {
	s := New(&fakeTransport{hold: true}, Config{}, nil, nil)
	if err := s.Send("hello"); !errors.Is(err, wperr.ErrNotConnected) {
		t.Fatalf("Send before open = %v, want ErrNotConnected", err)
	}

	s, ch, _ := openSession(t, time.Hour)
	if err := s.Send("hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_ = s.Close()
	if err := s.Send("late"); !errors.Is(err, wperr.ErrNotConnected) {
		t.Fatalf("Send after close = %v, want ErrNotConnected", err)
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.writes) != 1 || ch.writes[0] != "hello" {
		t.Errorf("writes = %v", ch.writes)
	}
}

func TestSession_ContextCancelCloses(t *testing.T) {
	ch := newFakeChannel()
	s := New(&fakeTransport{ch: ch}, Config{Heartbeat: time.Hour}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Open(ctx, "ws://daemon/ws"); err != nil {
		t.Fatal(err)
	}
	if ev := next(t, s); ev.Kind != EventOpen {
		t.Fatalf("got %s, want open", ev.Kind)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for s.State() != StateClosed && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.State() != StateClosed {
		t.Fatalf("state = %s, want closed", s.State())
	}
}

func TestStateAndKindStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{StateNew.String(), "new"},
		{StateConnecting.String(), "connecting"},
		{StateOpen.String(), "open"},
		{StateClosing.String(), "closing"},
		{StateClosed.String(), "closed"},
		{State(42).String(), "unknown"},
		{EventOpen.String(), "open"},
		{EventMessage.String(), "message"},
		{EventError.String(), "error"},
		{EventClose.String(), "close"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
