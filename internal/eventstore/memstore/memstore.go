// Package memstore is an in-memory eventstore.Store for tests and local
// runs, grounded on internal/sessions/memory.go's mutex-protected map plus
// deep-clone-before-return discipline, generalized from a per-session
// message list into a single global append-only log with subscriber fanout.
package memstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tronrun/tron/internal/eventstore"
	"github.com/tronrun/tron/internal/ids"
)

// maxSubscriberBacklog bounds the per-subscriber channel; a slow subscriber
// drops rather than blocking Append (mirrors the bounded-queue discipline
// used for outbound client delivery elsewhere in this module).
const maxSubscriberBacklog = 256

type subscriber struct {
	ch     chan eventstore.Event
	filter eventstore.Filter
}

// Store is a process-local, mutex-guarded event log.
type Store struct {
	mu          sync.Mutex
	nextID      int64
	events      []eventstore.Event
	bySession   map[ids.SessionID][]int // indices into events, in append order
	subscribers map[int]*subscriber
	nextSubID   int
	now         func() time.Time
}

// New constructs an empty Store. now defaults to time.Now; tests may
// override it for deterministic timestamps.
func New() *Store {
	return &Store{
		bySession:   map[ids.SessionID][]int{},
		subscribers: map[int]*subscriber{},
		now:         time.Now,
	}
}

func cloneEvent(e eventstore.Event) eventstore.Event {
	out := e
	if e.Payload != nil {
		out.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	if e.ParentID != nil {
		id := *e.ParentID
		out.ParentID = &id
	}
	return out
}

func (s *Store) Append(ctx context.Context, sessionID ids.SessionID, typ eventstore.EventType, payload any, parentID *int64) (eventstore.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return eventstore.Event{}, err
	}

	s.mu.Lock()
	s.nextID++
	e := eventstore.Event{
		ID:        s.nextID,
		SessionID: sessionID,
		Timestamp: s.now(),
		Type:      typ,
		Payload:   raw,
		ParentID:  parentID,
	}
	s.events = append(s.events, e)
	s.bySession[sessionID] = append(s.bySession[sessionID], len(s.events)-1)

	var toNotify []chan eventstore.Event
	for _, sub := range s.subscribers {
		if sub.filter.Matches(e) {
			toNotify = append(toNotify, sub.ch)
		}
	}
	s.mu.Unlock()

	for _, ch := range toNotify {
		select {
		case ch <- cloneEvent(e):
		default:
			// Backlog full: drop. Subscribers needing a durable replay
			// should call List after reconnecting.
		}
	}
	return cloneEvent(e), nil
}

func (s *Store) List(ctx context.Context, sessionID ids.SessionID, sinceID int64, limit int) ([]eventstore.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idxs := s.bySession[sessionID]
	out := make([]eventstore.Event, 0, len(idxs))
	for _, idx := range idxs {
		e := s.events[idx]
		if e.ID <= sinceID {
			continue
		}
		out = append(out, cloneEvent(e))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, filter eventstore.Filter) (<-chan eventstore.Event, func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan eventstore.Event, maxSubscriberBacklog)
	s.subscribers[id] = &subscriber{ch: ch, filter: filter}
	s.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
			close(ch)
		})
	}

	go func() {
		<-ctx.Done()
		unsubscribe()
	}()

	return ch, unsubscribe
}

func (s *Store) Reconstruct(ctx context.Context, sessionID ids.SessionID) (eventstore.SessionMemory, error) {
	events, err := s.List(ctx, sessionID, 0, 0)
	if err != nil {
		return eventstore.SessionMemory{}, err
	}
	return eventstore.Reconstruct(sessionID, events)
}

var _ eventstore.Store = (*Store)(nil)
