// Package sqlstore is a durable eventstore.Store backed by SQLite, grounded
// on internal/memory/backend/sqlitevec's pure-Go driver usage and
// prepare/exec/transaction discipline, generalized from a vector memory
// table into the append-only event journal.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tronrun/tron/internal/eventstore"
	"github.com/tronrun/tron/internal/ids"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	ts DATETIME NOT NULL,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	parent_id INTEGER
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, id);
`

// Store is a SQLite-backed event journal. Subscribe fanout is in-process
// only (no cross-instance replication).
type Store struct {
	db *sql.DB

	mu          sync.Mutex
	subscribers map[int]*subscriber
	nextSubID   int
}

type subscriber struct {
	ch     chan eventstore.Event
	filter eventstore.Filter
}

// Config configures the SQLite-backed store.
type Config struct {
	// Path to the database file, or ":memory:" for an ephemeral store.
	Path string
}

// Open creates (if needed) and opens the events table at cfg.Path.
func Open(cfg Config) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return &Store{db: db, subscribers: map[int]*subscriber{}}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Append(ctx context.Context, sessionID ids.SessionID, typ eventstore.EventType, payload any, parentID *int64) (eventstore.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return eventstore.Event{}, fmt.Errorf("sqlstore: marshal payload: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, ts, event_type, payload, parent_id) VALUES (?, ?, ?, ?, ?)`,
		string(sessionID), now, string(typ), string(raw), nullInt64(parentID),
	)
	if err != nil {
		return eventstore.Event{}, fmt.Errorf("sqlstore: insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eventstore.Event{}, fmt.Errorf("sqlstore: last insert id: %w", err)
	}

	e := eventstore.Event{
		ID:        id,
		SessionID: sessionID,
		Timestamp: now,
		Type:      typ,
		Payload:   raw,
		ParentID:  parentID,
	}

	s.mu.Lock()
	var toNotify []chan eventstore.Event
	for _, sub := range s.subscribers {
		if sub.filter.Matches(e) {
			toNotify = append(toNotify, sub.ch)
		}
	}
	s.mu.Unlock()

	for _, ch := range toNotify {
		select {
		case ch <- e:
		default:
		}
	}
	return e, nil
}

func (s *Store) List(ctx context.Context, sessionID ids.SessionID, sinceID int64, limit int) ([]eventstore.Event, error) {
	query := `SELECT id, session_id, ts, event_type, payload, parent_id FROM events WHERE session_id = ? AND id > ? ORDER BY id ASC`
	args := []any{string(sessionID), sinceID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list: %w", err)
	}
	defer rows.Close()

	var out []eventstore.Event
	for rows.Next() {
		var (
			e         eventstore.Event
			sid       string
			eventType string
			payload   string
			parentID  sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &sid, &e.Timestamp, &eventType, &payload, &parentID); err != nil {
			return nil, fmt.Errorf("sqlstore: scan: %w", err)
		}
		e.SessionID = ids.SessionID(sid)
		e.Type = eventstore.EventType(eventType)
		e.Payload = json.RawMessage(payload)
		if parentID.Valid {
			v := parentID.Int64
			e.ParentID = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Subscribe(ctx context.Context, filter eventstore.Filter) (<-chan eventstore.Event, func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan eventstore.Event, 256)
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

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

var _ eventstore.Store = (*Store)(nil)
