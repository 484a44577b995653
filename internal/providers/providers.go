// Package providers presents one streaming contract over three vendor wire
// formats (Anthropic/Bedrock cache-aware, OpenAI/Google direct), grounded on
// internal/agent/provider_types.go's LLMProvider interface and
// CompletionChunk shape, generalized into the StreamEvent sum type and an
// explicit terminal-event guarantee.
package providers

import (
	"context"

	"github.com/tronrun/tron/internal/runtimeerr"
	"github.com/tronrun/tron/internal/tokens"
	"github.com/tronrun/tron/pkg/models"
)

// StreamEventKind tags which variant of the StreamEvent sum type a value
// carries. Exactly one Start-ish/Done/Error path ends every stream: Start
// opens it, and exactly one of Done or Error closes it.
type StreamEventKind string

const (
	EventStart                   StreamEventKind = "start"
	EventTextStart                StreamEventKind = "text_start"
	EventTextDelta                StreamEventKind = "text_delta"
	EventTextEnd                  StreamEventKind = "text_end"
	EventThinkingDelta            StreamEventKind = "thinking_delta"
	EventToolCallStart            StreamEventKind = "tool_call_start"
	EventToolCallArgumentsDelta   StreamEventKind = "tool_call_arguments_delta"
	EventToolCallEnd              StreamEventKind = "tool_call_end"
	EventDone                     StreamEventKind = "done"
	EventError                    StreamEventKind = "error"
)

// StopReason is the terminal reason a Done event reports.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// StreamEvent is one element of a Provider's stream. Only the fields
// relevant to Kind are populated; see the field comments for which Kind(s)
// set them.
type StreamEvent struct {
	Kind StreamEventKind

	// TextDelta, ThinkingDelta
	Delta string

	// TextEnd
	Text            string
	OpaqueSignature string

	// ToolCallStart, ToolCallArgumentsDelta, ToolCallEnd
	ToolCallID   string
	ToolCallName string
	// ToolCallEnd only: the complete accumulated arguments, which must
	// equal the concatenation of every preceding ToolCallArgumentsDelta.
	ToolCallArguments string

	// Done
	Message    models.SessionMessage
	StopReason StopReason
	Usage      tokens.Usage

	// Error
	Err *runtimeerr.ProviderError
}

// Message is one turn of conversation handed to a Provider; distinct from
// models.SessionMessage (the persisted/replayed shape) to keep the
// provider-facing request format decoupled from storage concerns.
type Message struct {
	Role             models.SessionMessageRole
	UserBlocks       []models.UserBlock
	AssistantBlocks  []models.AssistantBlock
	ToolResultBlocks []models.ToolResultBlock
	ToolResultCallID string
}

// Context is the bounded conversation window and generation parameters sent
// to a single stream call, produced by the context manager (spec §4.4).
type Context struct {
	Model        string
	System       string
	Messages     []Message
	Tools        []ToolDefinition
	MaxTokens    int
	PreviousBaseline int // tokens.Normalize's previousBaseline, carried per-session
}

// ToolDefinition is the JSON-schema-shaped tool description sent to the
// model; Registry.Definitions() produces these (internal/tools).
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  []byte // raw JSON Schema
}

// Options tunes a single stream call beyond what Context carries.
type Options struct {
	EnableThinking       bool
	ThinkingBudgetTokens int
}

// Provider normalizes one vendor's wire format into StreamEvent. Stream
// must deliver exactly one terminal event (Done or Error) and must respect
// ctx cancellation by emitting Error{Kind: runtimeerr.ProviderOther} (or
// simply closing early — callers treat context.Canceled specially).
type Provider interface {
	Name() string
	Kind() tokens.ProviderType
	Models() []Model
	Stream(ctx context.Context, c Context, opts Options) (<-chan StreamEvent, error)
}

// Model mirrors internal/agent/provider_types.go's Model, naming an
// available model and its capabilities.
type Model struct {
	ID             string
	Name           string
	ContextSize    int
	SupportsVision bool
}
