package models

import (
	"encoding/json"
	"fmt"
)

// SessionMessageRole tags a SessionMessage's place in the agent-loop
// conversation (distinct from the multi-channel Role above, which tags
// delivery messages).
type SessionMessageRole string

const (
	SessionMessageUser       SessionMessageRole = "user"
	SessionMessageAssistant  SessionMessageRole = "assistant"
	SessionMessageToolResult SessionMessageRole = "tool_result"
)

// SessionMessage is the tagged variant over {User, Assistant, ToolResult}
// content is an ordered sequence of typed blocks.
type SessionMessage struct {
	Role               SessionMessageRole `json:"role"`
	UserBlocks         []UserBlock        `json:"user_blocks,omitempty"`
	AssistantBlocks    []AssistantBlock   `json:"assistant_blocks,omitempty"`
	ToolResultBlocks   []ToolResultBlock  `json:"tool_result_blocks,omitempty"`
	ToolResultCallID   string             `json:"tool_call_id,omitempty"`
}

// --- User content blocks: Text | Image{mime,data} | Document{mime,data} ---

type UserBlockKind string

const (
	UserBlockText     UserBlockKind = "text"
	UserBlockImage    UserBlockKind = "image"
	UserBlockDocument UserBlockKind = "document"
)

type UserBlock struct {
	Kind UserBlockKind `json:"kind"`
	Text string        `json:"text,omitempty"`
	Mime string        `json:"mime,omitempty"`
	Data []byte        `json:"data,omitempty"`
}

// --- ToolResult content blocks: Text | Image{mime,data} ---

type ToolResultBlockKind string

const (
	ToolResultBlockText  ToolResultBlockKind = "text"
	ToolResultBlockImage ToolResultBlockKind = "image"
)

type ToolResultBlock struct {
	Kind ToolResultBlockKind `json:"kind"`
	Text string               `json:"text,omitempty"`
	Mime string               `json:"mime,omitempty"`
	Data []byte               `json:"data,omitempty"`
}

// --- Assistant content blocks: Text | Thinking{text, signature?} |
//     ToolCall{id, name, arguments, signature?} ---

type AssistantBlockKind string

const (
	AssistantBlockText     AssistantBlockKind = "text"
	AssistantBlockThinking AssistantBlockKind = "thinking"
	AssistantBlockToolCall AssistantBlockKind = "tool_call"
)

// AssistantBlock is a single block of an assistant message. OpaqueSignature
// carries vendor-issued thinking/tool-call receipts verbatim across turns
// ("Opaque signature").
//
// Wire-format note: persisted tool-call
// blocks may carry the vendor-native key "input" alongside (or instead of)
// the canonical "arguments"; UnmarshalJSON accepts either, preferring
// "arguments" when both are present, and MarshalJSON always emits both
// until old readers are retired.
type AssistantBlock struct {
	Kind             AssistantBlockKind
	Text             string
	Thinking         string
	ToolCallID       string
	ToolCallName     string
	ToolCallArgs     json.RawMessage
	OpaqueSignature  string
}

type assistantBlockWire struct {
	Kind      AssistantBlockKind `json:"kind"`
	Text      string             `json:"text,omitempty"`
	Thinking  string             `json:"thinking,omitempty"`
	ID        string             `json:"id,omitempty"`
	Name      string             `json:"name,omitempty"`
	Arguments json.RawMessage    `json:"arguments,omitempty"`
	Input     json.RawMessage    `json:"input,omitempty"`
	Signature string             `json:"signature,omitempty"`
}

func (b AssistantBlock) MarshalJSON() ([]byte, error) {
	wire := assistantBlockWire{
		Kind:      b.Kind,
		Text:      b.Text,
		Thinking:  b.Thinking,
		ID:        b.ToolCallID,
		Name:      b.ToolCallName,
		Signature: b.OpaqueSignature,
	}
	if b.Kind == AssistantBlockToolCall {
		// Emit both keys: canonical "arguments" plus the vendor-native
		// "input" alias, so either-decoder readers (old and new writers)
		// can round-trip the block.
		wire.Arguments = b.ToolCallArgs
		wire.Input = b.ToolCallArgs
	}
	return json.Marshal(wire)
}

func (b *AssistantBlock) UnmarshalJSON(data []byte) error {
	var wire assistantBlockWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("models: decoding assistant block: %w", err)
	}
	b.Kind = wire.Kind
	b.Text = wire.Text
	b.Thinking = wire.Thinking
	b.ToolCallID = wire.ID
	b.ToolCallName = wire.Name
	b.OpaqueSignature = wire.Signature
	switch {
	case len(wire.Arguments) > 0:
		b.ToolCallArgs = wire.Arguments
	case len(wire.Input) > 0:
		b.ToolCallArgs = wire.Input
	}
	return nil
}
