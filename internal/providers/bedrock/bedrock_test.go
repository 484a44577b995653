package bedrock

import (
	"encoding/json"
	"testing"

	"github.com/tronrun/tron/internal/providers"
	"github.com/tronrun/tron/internal/tokens"
	"github.com/tronrun/tron/pkg/models"
)

func TestModelDefaulting(t *testing.T) {
	p := &Provider{defaultModel: "anthropic.claude-3-5-sonnet-20241022-v2:0"}
	if p.model("") != "anthropic.claude-3-5-sonnet-20241022-v2:0" {
		t.Fatalf("expected default model, got %q", p.model(""))
	}
	if p.model("anthropic.claude-3-opus-20240229-v1:0") != "anthropic.claude-3-opus-20240229-v1:0" {
		t.Fatal("expected explicit model to override default")
	}
}

func TestKindIsAnthropicFamily(t *testing.T) {
	p := &Provider{}
	if p.Kind() != tokens.ProviderAnthropicFamily {
		t.Fatalf("expected ProviderAnthropicFamily, got %v", p.Kind())
	}
}

func TestModelsNonEmpty(t *testing.T) {
	p := &Provider{}
	if len(p.Models()) == 0 {
		t.Fatal("expected at least one model")
	}
}

func TestConvertMessagesMapsRolesAndToolCalls(t *testing.T) {
	msgs := []providers.Message{
		{Role: models.SessionMessageUser, UserBlocks: []models.UserBlock{{Kind: models.UserBlockText, Text: "hi"}}},
		{Role: models.SessionMessageAssistant, AssistantBlocks: []models.AssistantBlock{
			{Kind: models.AssistantBlockText, Text: "thinking"},
			{Kind: models.AssistantBlockToolCall, ToolCallID: "t1", ToolCallName: "lookup", ToolCallArgs: json.RawMessage(`{"q":"x"}`)},
		}},
		{Role: models.SessionMessageToolResult, ToolResultCallID: "t1", ToolResultBlocks: []models.ToolResultBlock{
			{Kind: models.ToolResultBlockText, Text: "ok"},
		}},
	}

	out, err := convertMessages(msgs)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(out))
	}
}

func TestConvertToolsProducesToolSpec(t *testing.T) {
	defs := []providers.ToolDefinition{
		{Name: "lookup", Description: "looks things up", Parameters: json.RawMessage(`{"type":"object"}`)},
	}
	cfg := convertTools(defs)
	if len(cfg.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(cfg.Tools))
	}
}
