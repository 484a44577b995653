package toolregistry

import (
	"encoding/json"

	"github.com/tronrun/tron/pkg/models"
)

// fakeTool is a minimal Tool used across this package's tests.
type fakeTool struct {
	name        string
	category    Category
	interactive bool
	stopsTurn   bool
	mode        ExecutionMode
	params      json.RawMessage
	run         func(ec ExecContext, params json.RawMessage) (*models.ToolResult, error)
}

func (t *fakeTool) Name() string         { return t.name }
func (t *fakeTool) Category() Category   { return t.category }
func (t *fakeTool) IsInteractive() bool  { return t.interactive }
func (t *fakeTool) StopsTurn() bool      { return t.stopsTurn }
func (t *fakeTool) Mode() ExecutionMode  { return t.mode }

func (t *fakeTool) Definition() ToolDefinition {
	params := t.params
	if params == nil {
		params = json.RawMessage(`{"type":"object"}`)
	}
	return ToolDefinition{Name: t.name, Description: "fake tool", Parameters: params}
}

func (t *fakeTool) Execute(ec ExecContext, params json.RawMessage) (*models.ToolResult, error) {
	if t.run != nil {
		return t.run(ec, params)
	}
	return &models.ToolResult{Content: "ok"}, nil
}
