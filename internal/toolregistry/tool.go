// Package toolregistry maps tool names to implementations, validates their
// arguments against a declared JSON Schema, and dispatches a turn's tool
// calls honoring each tool's sequential/concurrent execution mode and
// turn-stopping behavior. Grounded on internal/agent/tool_registry.go's
// ToolRegistry and internal/agent/tool_exec.go's ToolExecutor, generalized
// to the contract in SPEC_FULL.md §4.3: every Tool reports a category, an
// is-interactive flag (excluded from subagent registries), a stops-turn
// flag (an unconditional loop terminator once its result is persisted),
// and its own execution mode.
package toolregistry

import (
	"context"
	"encoding/json"

	"github.com/tronrun/tron/pkg/models"
)

// Category loosely classifies a tool for display and policy purposes.
type Category string

const (
	CategoryFilesystem  Category = "filesystem"
	CategoryExec        Category = "exec"
	CategoryNetwork     Category = "network"
	CategoryMemory      Category = "memory"
	CategoryInteractive Category = "interactive"
	CategoryOther       Category = "other"
)

// ExecutionMode controls whether a tool call must complete before the next
// one in its turn starts, or may overlap with other concurrent calls.
type ExecutionMode int

const (
	// Sequential tools must finish before the next tool call in the same
	// turn begins executing.
	Sequential ExecutionMode = iota
	// Concurrent tools may run alongside other concurrent tools from the
	// same turn.
	Concurrent
)

// ToolDefinition is the JSON-schema-shaped description handed to a
// provider so the model can construct a valid call.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ExecContext carries everything a Tool's Execute needs beyond its declared
// parameters: the call's identity, the session it belongs to, the
// filesystem scope it may touch, how deep a subagent spawn chain it runs
// under, and a context.Context for cancellation.
type ExecContext struct {
	Ctx              context.Context
	ToolCallID       string
	SessionID        string
	WorkingDirectory string
	SubagentDepth    int
}

// Tool is the contract every registered capability implements.
type Tool interface {
	// Name is the stable identifier used for registration and dispatch.
	Name() string

	// Category classifies the tool for display and subagent-filter purposes.
	Category() Category

	// IsInteractive reports whether this tool requires a human in the loop
	// (e.g. an approval prompt). Interactive tools are excluded from any
	// subagent-filtered registry view.
	IsInteractive() bool

	// StopsTurn reports whether a successful call unconditionally ends the
	// agent loop once its result is persisted, regardless of the stream's
	// own stop reason.
	StopsTurn() bool

	// Mode reports whether this tool must run to completion before the
	// next tool call in its turn starts, or may run concurrently with
	// other concurrent tools from the same turn.
	Mode() ExecutionMode

	// Definition returns the JSON-schema parameter description surfaced to
	// the model.
	Definition() ToolDefinition

	// Execute runs the tool. params has already been validated against
	// Definition().Parameters by the time Execute is called.
	Execute(ec ExecContext, params json.RawMessage) (*models.ToolResult, error)
}
