// Package transport provides the channel a pairing session runs over.
//
// Two layers live here.  A Dialer decides how the underlying TCP
// connection is made (direct, or through an SSH gateway).  A Transport
// turns that into a framed, bidirectional text Channel; the websocket
// implementation is the one the CLI uses, tests substitute fakes.
package transport

import (
	"context"
	"fmt"
	"net"
)

// Dialer opens outbound network connections.  Implementations include
// a plain TCP dialer and an SSH-tunnelled dialer that routes traffic
// through an encrypted gateway.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}

// Transport opens channels to an endpoint URL.  Open blocks until the
// handshake completes or fails.
type Transport interface {
	Open(ctx context.Context, url string) (Channel, error)
}

// Channel is one open, framed connection.  ReadFrame may be called
// from one goroutine while WriteFrame and Close are called from
// another; WriteFrame callers must serialise among themselves.
type Channel interface {
	// ReadFrame blocks for the next text frame.  When the channel ends
	// it returns a *CloseError; any other error is a transport fault.
	ReadFrame() (string, error)

	// WriteFrame sends one text frame.
	WriteFrame(frame string) error

	// Close starts the closing handshake.  ReadFrame reports the
	// outcome.  Calling Close more than once is harmless.
	Close() error
}

// Close codes used by this package (RFC 6455 §7.4.1).
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006
)

// CloseError describes how a channel ended.
type CloseError struct {
	Code   int
	Reason string
	Clean  bool // the closing handshake completed
}

func (e *CloseError) Error() string {
	kind := "unclean"
	if e.Clean {
		kind = "clean"
	}
	if e.Reason == "" {
		return fmt.Sprintf("channel closed (%s, code %d)", kind, e.Code)
	}
	return fmt.Sprintf("channel closed (%s, code %d): %s", kind, e.Code, e.Reason)
}
