// Package eventstore implements the append-only event journal and
// deterministic session-state replay.
//
// Grounded on internal/sessions/store.go's Store interface shape and
// internal/sessions/memory.go's mutex + deep-clone discipline,
// generalized from a channel-message store into a typed event log; the
// replay algorithm is grounded on original_source/tron-runtime/
// orchestrator/session_reconstructor.rs.
package eventstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tronrun/tron/internal/ids"
	"github.com/tronrun/tron/internal/tokens"
	"github.com/tronrun/tron/pkg/models"
)

// EventType tags the kind of state transition an Event represents.
type EventType string

const (
	EventSessionStart     EventType = "session_start"
	EventSessionFork      EventType = "session_fork"
	EventMessageUser      EventType = "message_user"
	EventMessageAssistant EventType = "message_assistant"
	EventToolCall         EventType = "tool_call"
	EventToolResult       EventType = "tool_result"
	EventContextCleared   EventType = "context_cleared"
	EventCompactBoundary  EventType = "compact_boundary"
	EventCompactSummary   EventType = "compact_summary"
	EventConfigModelSwitch EventType = "config_model_switch"
	EventStreamTurnStart  EventType = "stream_turn_start"
	EventStreamTurnEnd    EventType = "stream_turn_end"
	EventSkillAdded       EventType = "skill_added"
	EventSkillRemoved     EventType = "skill_removed"
	EventMemoryLedger     EventType = "memory_ledger"
)

// Event is one row of the append-only journal.
type Event struct {
	ID        int64
	SessionID ids.SessionID
	Timestamp time.Time
	Type      EventType
	Payload   json.RawMessage
	ParentID  *int64
}

// Filter restricts a Subscribe stream to matching events. Zero-value
// fields mean "no restriction" on that axis.
type Filter struct {
	SessionID ids.SessionID
	Types     []EventType
}

// Matches reports whether e satisfies every restriction set on f.
func (f Filter) Matches(e Event) bool {
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if t == e.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Store is the single append-only journal per installation.
type Store interface {
	// Append writes one row, assigning a monotonically increasing id and a
	// wall-clock timestamp, and publishes it to the subscriber bus.
	Append(ctx context.Context, sessionID ids.SessionID, typ EventType, payload any, parentID *int64) (Event, error)

	// List returns events in id order, optionally starting after sinceID
	// (0 means from the beginning) and capped at limit (0 means no cap).
	List(ctx context.Context, sessionID ids.SessionID, sinceID int64, limit int) ([]Event, error)

	// Subscribe returns a channel of future appends matching filter and an
	// unsubscribe function. The channel is closed when unsubscribe is
	// called or ctx is cancelled.
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, func())

	// Reconstruct folds all events for sessionID into a SessionMemory
	// snapshot. Fails if session_start is absent.
	Reconstruct(ctx context.Context, sessionID ids.SessionID) (SessionMemory, error)
}

// SessionMemory is the in-memory snapshot produced by Reconstruct.
type SessionMemory struct {
	SessionID        ids.SessionID
	Model            string
	SystemPrompt     string
	WorkingDirectory string
	Messages         []models.SessionMessage
	ToolCalls        []models.AssistantBlock
	StartedAt        time.Time
	EndedAt          *time.Time
	ActiveFiles      []string
	ParentHandoffID  *string
	Tokens           tokens.Accumulated

	// compactBoundaryID, when set, is the id of the most recent
	// compact_boundary event; messages up to and including it are
	// replaced by the synthetic summary from the matching compact_summary.
	compactBoundaryID *int64
}

type sessionStartPayload struct {
	Model            string `json:"model"`
	WorkingDirectory string `json:"working_directory"`
	SystemPrompt     string `json:"system_prompt"`
	ParentHandoffID  string `json:"parent_handoff_id,omitempty"`
}

type compactSummaryPayload struct {
	BoundaryID int64  `json:"boundary_id"`
	Summary    string `json:"summary"`
}

type configModelSwitchPayload struct {
	Model string `json:"model"`
}

// Reconstruct applies the state-replay algorithm to a
// slice of events already known to be in id order. Exported so store
// implementations (memstore, sqlstore) share one replay algorithm.
func Reconstruct(sessionID ids.SessionID, events []Event) (SessionMemory, error) {
	var mem SessionMemory
	mem.SessionID = sessionID

	haveStart := false
	var lastCompactBoundary *int64

	for _, e := range events {
		switch e.Type {
		case EventSessionStart:
			// "the last session_start wins if duplicates exist" — a repair
			// operation, not normal flow; replaying keeps applying it.
			var p sessionStartPayload
			_ = json.Unmarshal(e.Payload, &p)
			mem.Model = p.Model
			mem.WorkingDirectory = p.WorkingDirectory
			mem.SystemPrompt = p.SystemPrompt
			if p.ParentHandoffID != "" {
				id := p.ParentHandoffID
				mem.ParentHandoffID = &id
			}
			mem.StartedAt = e.Timestamp
			haveStart = true

		case EventMessageUser, EventMessageAssistant:
			var msg models.SessionMessage
			if err := json.Unmarshal(e.Payload, &msg); err == nil {
				mem.Messages = append(mem.Messages, msg)
				if e.Type == EventMessageAssistant {
					for _, b := range msg.AssistantBlocks {
						if b.Kind == models.AssistantBlockToolCall {
							mem.ToolCalls = append(mem.ToolCalls, b)
						}
					}
				}
			}

		case EventToolCall:
			var b models.AssistantBlock
			if err := json.Unmarshal(e.Payload, &b); err == nil {
				mem.ToolCalls = append(mem.ToolCalls, b)
			}

		case EventToolResult:
			var msg models.SessionMessage
			if err := json.Unmarshal(e.Payload, &msg); err == nil {
				mem.Messages = append(mem.Messages, msg)
			}

		case EventCompactBoundary:
			id := e.ID
			lastCompactBoundary = &id

		case EventCompactSummary:
			var p compactSummaryPayload
			if err := json.Unmarshal(e.Payload, &p); err == nil {
				mem.Messages = truncateBeforeBoundary(mem.Messages, p.Summary)
				mem.compactBoundaryID = lastCompactBoundary
			}

		case EventConfigModelSwitch:
			var p configModelSwitchPayload
			if err := json.Unmarshal(e.Payload, &p); err == nil {
				mem.Model = p.Model
			}

		case EventContextCleared:
			mem.Messages = nil
		}
	}

	if !haveStart {
		return SessionMemory{}, &missingSessionStartError{SessionID: sessionID}
	}
	return mem, nil
}

// truncateBeforeBoundary replaces the entire visible window with a single
// synthetic assistant summary message; the full event log is untouched —
// only the reconstructed in-memory window is truncated.
func truncateBeforeBoundary(_ []models.SessionMessage, summary string) []models.SessionMessage {
	return []models.SessionMessage{
		{
			Role: models.SessionMessageAssistant,
			AssistantBlocks: []models.AssistantBlock{
				{Kind: models.AssistantBlockText, Text: summary},
			},
		},
	}
}

type missingSessionStartError struct{ SessionID ids.SessionID }

func (e *missingSessionStartError) Error() string {
	return "eventstore: reconstruct: session_start event missing for session " + string(e.SessionID)
}
