// Package protocol decodes the frames a pairing daemon sends over the
// channel.
//
// Two reserved text frames carry liveness and are never JSON:
//
//	__ping__   client → server, sent on every heartbeat tick
//	__pong__   server → client, ignored
//
// Everything else is a single JSON object with a "type" discriminator,
// decoded once here into one of the Message variants.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Control frames.
const (
	Ping = "__ping__"
	Pong = "__pong__"
)

// UndefinedPushname is the sentinel the daemon sends when the account
// has no display name.
const UndefinedPushname = "UNDEFINED"

// Message kinds on the wire.
const (
	KindQR      = "qr"
	KindAccount = "account"
	KindError   = "error"
)

// Message is one decoded server frame: *QR, *Account or *Failure.
type Message interface {
	Kind() string
	sealed()
}

// QR carries a new code image.  A later QR supersedes an unscanned one.
type QR struct {
	ImageQrCode string `json:"imageQrCode"`
}

// Account reports that pairing succeeded.  Both fields may be empty.
type Account struct {
	Pushname string `json:"pushname,omitempty"`
	Wid      string `json:"wid"`
}

// Failure is a daemon-side error; Reason is shown to the user verbatim.
type Failure struct {
	Reason string `json:"reason"`
}

func (*QR) Kind() string      { return KindQR }
func (*Account) Kind() string { return KindAccount }
func (*Failure) Kind() string { return KindError }

func (*QR) sealed()      {}
func (*Account) sealed() {}
func (*Failure) sealed() {}

// HasPushname reports whether Pushname is a real display name.
func (a *Account) HasPushname() bool {
	return a.Pushname != "" && a.Pushname != UndefinedPushname
}

// IsControl reports whether frame should be dropped before decoding:
// the pong reply or an empty frame.
func IsControl(frame string) bool {
	return frame == "" || frame == Pong
}

// ErrUnknownKind is returned by Decode for well-formed JSON whose type
// is not one of the known kinds.
type ErrUnknownKind struct {
	Kind string
}

func (e *ErrUnknownKind) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Kind)
}

type envelope struct {
	Type string `json:"type"`
}

// Decode parses a JSON frame into its Message variant.  Callers filter
// control frames with IsControl first.
func Decode(frame []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, err
	}

	var msg Message
	switch env.Type {
	case KindQR:
		msg = &QR{}
	case KindAccount:
		msg = &Account{}
	case KindError:
		msg = &Failure{}
	default:
		return nil, &ErrUnknownKind{Kind: env.Type}
	}
	if err := json.Unmarshal(frame, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Encode renders msg with its type discriminator.  The client never
// sends these; the daemon simulator in internal/pairtest does.
func Encode(msg Message) ([]byte, error) {
	var body interface{}
	switch m := msg.(type) {
	case *QR:
		body = struct {
			Type string `json:"type"`
			*QR
		}{KindQR, m}
	case *Account:
		body = struct {
			Type string `json:"type"`
			*Account
		}{KindAccount, m}
	case *Failure:
		body = struct {
			Type string `json:"type"`
			*Failure
		}{KindError, m}
	default:
		return nil, fmt.Errorf("protocol: cannot encode %T", msg)
	}
	return json.Marshal(body)
}
