package context

import (
	"strings"

	"github.com/tronrun/tron/internal/providers"
	"github.com/tronrun/tron/pkg/models"
)

// Thresholds for the compaction decision function, in priority order.
const (
	// TriggerThreshold: used/max ratio at or above this always compacts.
	TriggerThreshold = 0.70
	// AlertThreshold: combined with AlertTurnFallback, compacts earlier
	// than TriggerThreshold once enough turns have passed.
	AlertThreshold = 0.50
	// AlertTurnFallback is the turn count that, together with
	// AlertThreshold, forces a compaction.
	AlertTurnFallback = 5
	// DefaultTurnFallback forces a compaction after this many turns
	// regardless of token ratio, bounding how stale the window can get.
	DefaultTurnFallback = 8
)

// CompactionDecision is the result of evaluating whether the next turn
// should compact the conversation history before building its Context.
type CompactionDecision struct {
	Compact bool
	Reason  string
}

// ShouldCompact implements the three-tier compaction trigger: a high token
// ratio always compacts; a moderate ratio compacts once enough turns have
// elapsed since the last compaction; otherwise a turn-count ceiling forces
// compaction regardless of ratio, so a long low-token-usage conversation
// doesn't accumulate an unbounded uncompacted history.
func ShouldCompact(usedTokens, maxTokens, turnsSinceCompaction int) CompactionDecision {
	if maxTokens <= 0 {
		maxTokens = DefaultContextWindow
	}
	ratio := float64(usedTokens) / float64(maxTokens)

	switch {
	case ratio >= TriggerThreshold:
		return CompactionDecision{Compact: true, Reason: "token ratio at or above trigger threshold"}
	case ratio >= AlertThreshold && turnsSinceCompaction >= AlertTurnFallback:
		return CompactionDecision{Compact: true, Reason: "token ratio at or above alert threshold with turns since compaction exceeding alert fallback"}
	case turnsSinceCompaction >= DefaultTurnFallback:
		return CompactionDecision{Compact: true, Reason: "turns since compaction exceeding default fallback"}
	}
	return CompactionDecision{Compact: false}
}

// Manager builds the bounded providers.Context presented to a model each
// turn from the full event-replayed message history plus the system
// prompt, tools, and a token budget.
type Manager struct {
	truncator *Truncator
}

// NewManager builds a Manager using TruncateOldest as its fallback
// strategy when a replayed history exceeds maxTokens on its own (the
// common path is that compaction already bounded the window upstream;
// this is a last-resort safety net, not the primary compaction path).
func NewManager() *Manager {
	return &Manager{truncator: NewTruncator(TruncateOldest, DefaultContextWindow)}
}

// BuildContext assembles a providers.Context for one turn. messages is
// the already-reconstructed (and, if applicable, already-compacted)
// session history; maxTokens bounds the model's context window.
func (m *Manager) BuildContext(model, system string, messages []providers.Message, tools []providers.ToolDefinition, maxTokens int, previousBaseline int) providers.Context {
	if maxTokens <= 0 {
		maxTokens = DefaultContextWindow
	}
	m.truncator.maxTokens = maxTokens

	fitted := m.fitMessages(messages, maxTokens)

	return providers.Context{
		Model:            model,
		System:           system,
		Messages:         fitted,
		Tools:            tools,
		MaxTokens:        maxTokens,
		PreviousBaseline: previousBaseline,
	}
}

// fitMessages is a last-resort safety net for a history that still
// exceeds maxTokens even after upstream compaction: it drops the oldest
// messages between the kept head (keepFirst) and kept tail (keepLast)
// until the estimated token total fits, preserving relative order of
// whatever survives. The primary bounding mechanism is compaction
// (ShouldCompact plus the orchestrator emitting compact_boundary/
// compact_summary events), not this truncation.
func (m *Manager) fitMessages(msgs []providers.Message, maxTokens int) []providers.Message {
	estimated := make([]int, len(msgs))
	total := 0
	for i, pm := range msgs {
		estimated[i] = EstimateTokens(messageText(pm)) + 4
		total += estimated[i]
	}
	if total <= maxTokens {
		return msgs
	}

	keepFirst := m.truncator.keepFirst
	keepLast := m.truncator.keepLast
	if keepFirst+keepLast >= len(msgs) {
		return msgs
	}

	headTokens := 0
	for i := 0; i < keepFirst; i++ {
		headTokens += estimated[i]
	}
	tailTokens := 0
	for i := len(msgs) - keepLast; i < len(msgs); i++ {
		tailTokens += estimated[i]
	}

	budget := maxTokens - headTokens - tailTokens
	dropFrom := keepFirst
	middleTokens := 0
	for i := keepFirst; i < len(msgs)-keepLast; i++ {
		middleTokens += estimated[i]
	}
	for dropFrom < len(msgs)-keepLast && middleTokens > budget {
		middleTokens -= estimated[dropFrom]
		dropFrom++
	}

	out := make([]providers.Message, 0, len(msgs)-(dropFrom-keepFirst))
	out = append(out, msgs[:keepFirst]...)
	out = append(out, msgs[dropFrom:]...)
	return out
}

func messageText(pm providers.Message) string {
	var sb strings.Builder
	switch pm.Role {
	case models.SessionMessageUser:
		for _, b := range pm.UserBlocks {
			sb.WriteString(b.Text)
		}
	case models.SessionMessageAssistant:
		for _, b := range pm.AssistantBlocks {
			sb.WriteString(b.Text)
			sb.WriteString(b.Thinking)
		}
	case models.SessionMessageToolResult:
		for _, b := range pm.ToolResultBlocks {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}
