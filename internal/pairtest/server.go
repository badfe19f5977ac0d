// Package pairtest runs an in-process pairing daemon for tests.
//
// The server upgrades every request to a websocket, answers __ping__
// with __pong__ the way the reference daemon does, records everything
// the client sends, and hands each connection to a script that plays
// the daemon's side of the protocol.
package pairtest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"wapair/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Script drives one accepted connection.  It runs in its own goroutine;
// returning does not close the peer.
type Script func(p *Peer)

// Server is a pairing daemon bound to a loopback port.
type Server struct {
	*httptest.Server

	// URL is the ws:// endpoint of the server.
	URL string

	script   Script
	accepted atomic.Int64
	active   atomic.Int64
	maxSeen  atomic.Int64
	peers    chan *Peer
}

// NewServer starts a server that runs script on every connection.  A
// nil script leaves the connection idle until the client closes it.
func NewServer(script Script) *Server {
	s := &Server{script: script, peers: make(chan *Peer, 16)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveWS))
	s.URL = "ws" + strings.TrimPrefix(s.Server.URL, "http") + "/ws"
	return s
}

// Accepted returns how many connections were upgraded.
func (s *Server) Accepted() int64 { return s.accepted.Load() }

// MaxConcurrent returns the highest number of simultaneously open
// connections seen so far.
func (s *Server) MaxConcurrent() int64 { return s.maxSeen.Load() }

// NextPeer waits for the next accepted connection.
func (s *Server) NextPeer(timeout time.Duration) (*Peer, bool) {
	select {
	case p := <-s.peers:
		return p, true
	case <-time.After(timeout):
		return nil, false
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.accepted.Add(1)
	n := s.active.Add(1)
	for {
		seen := s.maxSeen.Load()
		if n <= seen || s.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	p := &Peer{
		conn:     conn,
		received: make(chan string, 64),
		done:     make(chan struct{}),
	}
	select {
	case s.peers <- p:
	default:
	}
	if s.script != nil {
		go s.script(p)
	}

	p.readLoop()
	s.active.Add(-1)
}

// Peer is the daemon's end of one connection.
type Peer struct {
	conn     *websocket.Conn
	mu       sync.Mutex // serialises writes
	received chan string
	pings    atomic.Int64
	done     chan struct{}
	closeErr atomic.Pointer[websocket.CloseError]
}

func (p *Peer) readLoop() {
	defer close(p.done)
	defer p.conn.Close()
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				p.closeErr.Store(ce)
			}
			return
		}
		frame := string(data)
		if frame == protocol.Ping {
			p.pings.Add(1)
			_ = p.Send(protocol.Pong)
		}
		select {
		case p.received <- frame:
		default:
		}
	}
}

// Send writes one raw text frame.
func (p *Peer) Send(frame string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(time.Second))
	return p.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// SendMessage encodes and writes a protocol message.
func (p *Peer) SendMessage(m protocol.Message) error {
	raw, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return p.Send(string(raw))
}

// Close starts a clean closing handshake from the daemon's side.
func (p *Peer) Close(code int, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	return p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// Drop severs the TCP connection without a close frame.
func (p *Peer) Drop() {
	_ = p.conn.UnderlyingConn().Close()
}

// Received delivers every frame the client sent, pings included.
func (p *Peer) Received() <-chan string { return p.received }

// Pings returns how many __ping__ frames arrived.
func (p *Peer) Pings() int64 { return p.pings.Load() }

// Done is closed once the connection has ended.
func (p *Peer) Done() <-chan struct{} { return p.done }

// ClientClose returns the close frame the client sent, if any.
func (p *Peer) ClientClose() *websocket.CloseError { return p.closeErr.Load() }
