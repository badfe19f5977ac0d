// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of a wapair run.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for the pairing sessions of one run.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	sessionsActive  atomic.Int64
	sessionsTotal   atomic.Int64
	heartbeatsSent  atomic.Int64
	framesReceived  atomic.Int64
	framesDiscarded atomic.Int64
	errorsTotal     atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened increments both the active and total counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// ActiveSessions returns the number of sessions whose channel is open.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// ── Frame metrics ────────────────────────────────────────────────────

// HeartbeatSent records one __ping__ written to the channel.
func (c *Collector) HeartbeatSent() {
	if c == nil {
		return
	}
	c.heartbeatsSent.Add(1)
}

// FrameReceived records one inbound frame of any kind.
func (c *Collector) FrameReceived() {
	if c == nil {
		return
	}
	c.framesReceived.Add(1)
}

// FrameDiscarded records an inbound frame that produced no event
// (control frame, empty, malformed or unknown kind).
func (c *Collector) FrameDiscarded() {
	if c == nil {
		return
	}
	c.framesDiscarded.Add(1)
}

// HeartbeatsSent returns the total number of pings written.
func (c *Collector) HeartbeatsSent() int64 {
	if c == nil {
		return 0
	}
	return c.heartbeatsSent.Load()
}

// FramesReceived returns the total inbound frame count.
func (c *Collector) FramesReceived() int64 {
	if c == nil {
		return 0
	}
	return c.framesReceived.Load()
}

// FramesDiscarded returns the number of inbound frames dropped.
func (c *Collector) FramesDiscarded() int64 {
	if c == nil {
		return 0
	}
	return c.framesDiscarded.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	SessionsActive   int64  `json:"sessions_active"`
	SessionsTotal    int64  `json:"sessions_total"`
	HeartbeatsSent   int64  `json:"heartbeats_sent"`
	FramesReceived   int64  `json:"frames_received"`
	FramesDiscarded  int64  `json:"frames_discarded"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:          time.Since(c.startTime).Truncate(time.Second).String(),
		SessionsActive:  c.sessionsActive.Load(),
		SessionsTotal:   c.sessionsTotal.Load(),
		HeartbeatsSent:  c.heartbeatsSent.Load(),
		FramesReceived:  c.framesReceived.Load(),
		FramesDiscarded: c.framesDiscarded.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
