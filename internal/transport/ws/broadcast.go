package ws

import (
	"sync"

	"github.com/tronrun/tron/internal/ids"
)

// BroadcastManager holds every live connection and fans serialized events
// out to whichever connections are bound to the matching session, or to
// every connection for system-wide events. Grounded on internal/gateway's
// channel-fan-out pattern (a registry of live sessions each holding their
// own send channel), generalized from per-channel delivery to
// per-session-id delivery.
type BroadcastManager struct {
	mu    sync.RWMutex
	conns map[ids.ClientID]*ClientConnection
}

// NewBroadcastManager builds an empty manager.
func NewBroadcastManager() *BroadcastManager {
	return &BroadcastManager{conns: make(map[ids.ClientID]*ClientConnection)}
}

// Register adds a connection to the fan-out set.
func (b *BroadcastManager) Register(conn *ClientConnection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[conn.ID] = conn
}

// Unregister removes a connection; it no longer receives broadcast
// traffic once this returns.
func (b *BroadcastManager) Unregister(id ids.ClientID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, id)
}

// Broadcast delivers payload to every connection currently bound to
// sessionID. Enqueue failures (a full per-connection queue) are
// best-effort drops, counted on the connection itself.
func (b *BroadcastManager) Broadcast(sessionID ids.SessionID, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, conn := range b.conns {
		if bound, ok := conn.BoundSession(); ok && bound == sessionID {
			conn.Enqueue(payload)
		}
	}
}

// BroadcastAll delivers payload to every live connection, bound or not —
// for system-wide events with no particular session.
func (b *BroadcastManager) BroadcastAll(payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, conn := range b.conns {
		conn.Enqueue(payload)
	}
}

// Len reports the number of currently registered connections.
func (b *BroadcastManager) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}
