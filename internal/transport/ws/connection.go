// Package ws implements bidirectional message delivery to one client over
// a WebSocket, grounded on internal/gateway/ws_control_plane.go's
// wsSession (bounded send channel, writeLoop/readLoop split, startTicking
// shape) plus the missed-pong counter state machine from
// original_source's websocket/heartbeat.rs, which that ticking loop does
// not implement.
package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tronrun/tron/internal/ids"
)

// ClientConnection is one per WebSocket: an id, an optional bound session,
// a bounded outbound queue, a last-seen timestamp, and a dropped-message
// counter. Its lifetime ends on explicit Close, queue overflow is handled
// by dropping (never blocking the sender), and heartbeat timeout closes it
// from the outside via its cancel function.
type ClientConnection struct {
	ID ids.ClientID

	send   chan []byte
	cancel func()

	mu        sync.RWMutex
	sessionID ids.SessionID
	bound     bool

	dropped  atomic.Uint64
	alive    atomic.Bool
	lastSeen atomic.Int64 // unix nanoseconds
}

// NewClientConnection builds a connection with a bounded outbound queue of
// the given size. cancel, if non-nil, is invoked when the heartbeat
// detects the connection is dead.
func NewClientConnection(id ids.ClientID, queueSize int, cancel func()) *ClientConnection {
	if queueSize <= 0 {
		queueSize = 1
	}
	c := &ClientConnection{
		ID:     id,
		send:   make(chan []byte, queueSize),
		cancel: cancel,
	}
	c.alive.Store(true)
	c.lastSeen.Store(time.Now().UnixNano())
	return c
}

// Send is the outbound queue the write loop drains.
func (c *ClientConnection) Send() <-chan []byte { return c.send }

// Enqueue attempts to hand payload to the outbound queue without blocking.
// If the queue is full the message is dropped and the dropped-message
// counter increments; delivery within a connection is best-effort, since
// the event log remains the authoritative record regardless. Reports
// whether the message was enqueued.
func (c *ClientConnection) Enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// DroppedCount returns how many outbound messages have been dropped for
// queue overflow over this connection's lifetime.
func (c *ClientConnection) DroppedCount() uint64 { return c.dropped.Load() }

// MarkAlive resets the missed-pong state on any inbound frame (a pong, or
// any other client message — both count as liveness per the heartbeat
// contract) and records the last-seen timestamp.
func (c *ClientConnection) MarkAlive() {
	c.alive.Store(true)
	c.lastSeen.Store(time.Now().UnixNano())
}

// checkAlive reports the current alive flag without resetting it; the
// heartbeat loop reads it once per tick, then clears it until the next
// inbound frame arrives.
func (c *ClientConnection) checkAlive() bool { return c.alive.Load() }

// clearAlive marks the connection not-alive until the next inbound frame,
// mirroring the Rust heartbeat's unconditional per-tick reset.
func (c *ClientConnection) clearAlive() { c.alive.Store(false) }

// LastSeen returns the last time an inbound frame was observed.
func (c *ClientConnection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// BindSession remembers sessionID as the connection's bound session, on a
// successful session.create or session.resume response; subsequent
// broadcast events matching that session are routed to this connection.
func (c *ClientConnection) BindSession(sessionID ids.SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	c.bound = true
}

// BoundSession reports the connection's bound session, if any.
func (c *ClientConnection) BoundSession() (ids.SessionID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID, c.bound
}

// Close ends the connection's lifetime from the outside, e.g. on a
// heartbeat timeout.
func (c *ClientConnection) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}

// HeartbeatResult is the outcome of a RunHeartbeat call.
type HeartbeatResult string

const (
	// HeartbeatTimedOut means the client stopped responding within the
	// timeout window and the connection was closed.
	HeartbeatTimedOut HeartbeatResult = "timed_out"
	// HeartbeatCancelled means the heartbeat was stopped externally,
	// e.g. because the connection closed for an unrelated reason.
	HeartbeatCancelled HeartbeatResult = "cancelled"
)

// RunHeartbeat sends pings at a fixed interval; the alive flag resets on
// any inbound frame. If the connection hasn't been marked alive since the
// previous tick, the missed-pong counter increments; at max(1,
// timeout/interval) consecutive misses, conn.Close is called and
// HeartbeatTimedOut is returned. done is closed (or ctx.Done fires,
// whichever the caller wires up) to stop the loop cooperatively, yielding
// HeartbeatCancelled.
func RunHeartbeat(done <-chan struct{}, conn *ClientConnection, ping func() error, interval, timeout time.Duration) HeartbeatResult {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	maxMissed := int(timeout / interval)
	if maxMissed < 1 {
		maxMissed = 1
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-done:
			return HeartbeatCancelled
		case <-ticker.C:
			if conn.checkAlive() {
				missed = 0
			} else {
				missed++
				if missed >= maxMissed {
					conn.Close()
					return HeartbeatTimedOut
				}
			}
			conn.clearAlive()
			if ping != nil {
				_ = ping()
			}
		}
	}
}
