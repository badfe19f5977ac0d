package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	wperr "wapair/internal/errors"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20 // a QR data URL is a few KiB; leave headroom
)

// WebSocket is the Transport used against a real pairing daemon.
type WebSocket struct {
	// Dialer makes the underlying TCP connection.  Nil means a plain
	// TCPDialer with HandshakeTimeout.
	Dialer           Dialer
	HandshakeTimeout time.Duration
	// CloseGrace bounds how long a local Close waits for the peer's
	// close frame before the socket is dropped.
	CloseGrace time.Duration
	Header     http.Header
}

// Open performs the websocket upgrade and returns the open channel.
func (w *WebSocket) Open(ctx context.Context, url string) (Channel, error) {
	netDialer := w.Dialer
	if netDialer == nil {
		netDialer = &TCPDialer{Timeout: w.HandshakeTimeout}
	}

	d := websocket.Dialer{
		NetDialContext:   netDialer.Dial,
		HandshakeTimeout: w.HandshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}

	conn, resp, err := d.DialContext(ctx, url, w.Header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (HTTP %s)", err, resp.Status)
		}
		return nil, wperr.Wrap("dial", url, err)
	}
	conn.SetReadLimit(maxMessageSize)

	grace := w.CloseGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &wsChannel{conn: conn, url: url, grace: grace}, nil
}

// wsChannel adapts a gorilla connection to Channel.
type wsChannel struct {
	conn    *websocket.Conn
	url     string
	grace   time.Duration
	closing atomic.Bool
}

func (c *wsChannel) ReadFrame() (string, error) {
	_, data, err := c.conn.ReadMessage()
	if err == nil {
		return string(data), nil
	}
	_ = c.conn.Close()

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return "", &CloseError{
			Code:   ce.Code,
			Reason: ce.Text,
			Clean:  ce.Code != websocket.CloseAbnormalClosure,
		}
	}
	if c.closing.Load() {
		// We asked to close and the peer never answered in time.
		return "", &CloseError{Code: CloseAbnormal, Reason: err.Error()}
	}
	return "", wperr.Wrap("read", c.url, err)
}

func (c *wsChannel) WriteFrame(frame string) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		return wperr.Wrap("write", c.url, err)
	}
	return nil
}

func (c *wsChannel) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	// ReadFrame gives up on the peer's reply after the grace period.
	_ = c.conn.SetReadDeadline(time.Now().Add(c.grace))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		// The socket is already gone; unblock the reader now.
		_ = c.conn.Close()
		return wperr.Wrap("close", c.url, err)
	}
	return nil
}
