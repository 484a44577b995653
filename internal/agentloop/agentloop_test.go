package agentloop

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	ctxmgr "github.com/tronrun/tron/internal/context"
	"github.com/tronrun/tron/internal/eventstore"
	"github.com/tronrun/tron/internal/eventstore/memstore"
	"github.com/tronrun/tron/internal/ids"
	"github.com/tronrun/tron/internal/providers"
	"github.com/tronrun/tron/internal/runtimeerr"
	"github.com/tronrun/tron/internal/tokens"
	"github.com/tronrun/tron/internal/toolregistry"
	"github.com/tronrun/tron/pkg/models"
)

// scriptedProvider replays one StreamEvent slice per call to Stream, in
// order; once exhausted it repeats the last script.
type scriptedProvider struct {
	scripts [][]providers.StreamEvent
	calls   int
}

func (p *scriptedProvider) Name() string              { return "scripted" }
func (p *scriptedProvider) Kind() tokens.ProviderType { return tokens.ProviderDirect }
func (p *scriptedProvider) Models() []providers.Model { return nil }

func (p *scriptedProvider) Stream(ctx context.Context, c providers.Context, opts providers.Options) (<-chan providers.StreamEvent, error) {
	idx := p.calls
	if idx >= len(p.scripts) {
		idx = len(p.scripts) - 1
	}
	p.calls++
	script := p.scripts[idx]

	out := make(chan providers.StreamEvent, len(script))
	for _, ev := range script {
		out <- ev
	}
	close(out)
	return out, nil
}

func textDoneScript(text string) []providers.StreamEvent {
	return []providers.StreamEvent{
		{Kind: providers.EventTextDelta, Delta: text},
		{Kind: providers.EventDone, StopReason: providers.StopEndTurn, Usage: tokens.Usage{Input: 10, Output: 5}},
	}
}

func toolCallDoneScript(toolCallID, toolName, args string) []providers.StreamEvent {
	return []providers.StreamEvent{
		{Kind: providers.EventToolCallEnd, ToolCallID: toolCallID, ToolCallName: toolName, ToolCallArguments: args},
		{Kind: providers.EventDone, StopReason: providers.StopToolUse, Usage: tokens.Usage{Input: 10, Output: 5}},
	}
}

func newTestLoop(t *testing.T, provider providers.Provider, registry *toolregistry.Registry) (*Loop, eventstore.Store, ids.SessionID) {
	t.Helper()
	store := memstore.New()
	sessionID := ids.NewSessionID()
	if _, err := store.Append(context.Background(), sessionID, eventstore.EventSessionStart, struct {
		Model string `json:"model"`
	}{Model: "gpt-4o"}, nil); err != nil {
		t.Fatalf("seed session_start: %v", err)
	}

	if registry == nil {
		registry = toolregistry.New()
	}
	dispatcher := toolregistry.NewDispatcher(registry, nil)
	manager := ctxmgr.NewManager()

	loop := New(provider, store, dispatcher, registry, manager, nil, Config{MaxTurns: 3})
	return loop, store, sessionID
}

func drain(ch <-chan Event) []Event {
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestRunNoToolCallsStopsWithNoToolCalls(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]providers.StreamEvent{textDoneScript("hello there")}}
	loop, _, sessionID := newTestLoop(t, provider, nil)

	events := drain(loop.Run(context.Background(), sessionID, "hi"))

	last := events[len(events)-1]
	if last.Kind != KindRunComplete || last.Result == nil {
		t.Fatalf("expected a terminal RunComplete event, got %+v", last)
	}
	if last.Result.StopReason != StopNoToolCalls {
		t.Fatalf("expected stop reason %s, got %s", StopNoToolCalls, last.Result.StopReason)
	}
	if last.Result.TurnsExecuted != 1 {
		t.Fatalf("expected 1 turn executed, got %d", last.Result.TurnsExecuted)
	}

	sawDelta := false
	for _, ev := range events {
		if ev.Kind == KindTextDelta && ev.Delta == "hello there" {
			sawDelta = true
		}
	}
	if !sawDelta {
		t.Fatal("expected a text_delta event to be broadcast")
	}
}

type fakeStopsTurnTool struct {
	name string
}

func (f *fakeStopsTurnTool) Name() string                     { return f.name }
func (f *fakeStopsTurnTool) Category() toolregistry.Category  { return toolregistry.CategoryOther }
func (f *fakeStopsTurnTool) IsInteractive() bool              { return false }
func (f *fakeStopsTurnTool) StopsTurn() bool                  { return true }
func (f *fakeStopsTurnTool) Mode() toolregistry.ExecutionMode { return toolregistry.Sequential }
func (f *fakeStopsTurnTool) Definition() toolregistry.ToolDefinition {
	return toolregistry.ToolDefinition{Name: f.name, Description: "finishes the turn", Parameters: json.RawMessage(`{"type":"object"}`)}
}
func (f *fakeStopsTurnTool) Execute(ec toolregistry.ExecContext, params json.RawMessage) (*models.ToolResult, error) {
	return &models.ToolResult{Content: "done"}, nil
}

func TestRunToolStopEndsAfterToolsExecute(t *testing.T) {
	registry := toolregistry.New()
	registry.Register(&fakeStopsTurnTool{name: "finish_task"})

	provider := &scriptedProvider{scripts: [][]providers.StreamEvent{
		toolCallDoneScript("call1", "finish_task", `{}`),
	}}
	loop, store, sessionID := newTestLoop(t, provider, registry)

	events := drain(loop.Run(context.Background(), sessionID, "please finish"))

	last := events[len(events)-1]
	if last.Result == nil || last.Result.StopReason != StopToolStop {
		t.Fatalf("expected stop reason %s, got %+v", StopToolStop, last.Result)
	}

	mem, err := store.Reconstruct(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	foundResult := false
	for _, m := range mem.Messages {
		if m.Role == models.SessionMessageToolResult && m.ToolResultCallID == "call1" {
			foundResult = true
		}
	}
	if !foundResult {
		t.Fatal("expected a persisted tool_result message for call1")
	}
}

func TestRunMaxTurnsStopsAtCap(t *testing.T) {
	// Every turn produces a tool call for a tool that does not stop the
	// turn, so the loop keeps going until MaxTurns is hit.
	registry := toolregistry.New()
	registry.Register(&nonStoppingTool{name: "noop"})

	script := toolCallDoneScript("call1", "noop", `{}`)
	provider := &scriptedProvider{scripts: [][]providers.StreamEvent{script, script, script}}
	loop, _, sessionID := newTestLoop(t, provider, registry)

	events := drain(loop.Run(context.Background(), sessionID, "go"))
	last := events[len(events)-1]
	if last.Result == nil || last.Result.StopReason != StopMaxTurns {
		t.Fatalf("expected stop reason %s, got %+v", StopMaxTurns, last.Result)
	}
	if last.Result.TurnsExecuted != 3 {
		t.Fatalf("expected 3 turns executed, got %d", last.Result.TurnsExecuted)
	}
}

type nonStoppingTool struct{ name string }

func (f *nonStoppingTool) Name() string                     { return f.name }
func (f *nonStoppingTool) Category() toolregistry.Category  { return toolregistry.CategoryOther }
func (f *nonStoppingTool) IsInteractive() bool              { return false }
func (f *nonStoppingTool) StopsTurn() bool                  { return false }
func (f *nonStoppingTool) Mode() toolregistry.ExecutionMode { return toolregistry.Sequential }
func (f *nonStoppingTool) Definition() toolregistry.ToolDefinition {
	return toolregistry.ToolDefinition{Name: f.name, Description: "no-op", Parameters: json.RawMessage(`{"type":"object"}`)}
}
func (f *nonStoppingTool) Execute(ec toolregistry.ExecContext, params json.RawMessage) (*models.ToolResult, error) {
	return &models.ToolResult{Content: "ok"}, nil
}

func TestRunCancelledBeforeStartInterrupts(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]providers.StreamEvent{textDoneScript("unused")}}
	loop, _, sessionID := newTestLoop(t, provider, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := drain(loop.Run(ctx, sessionID, "hi"))
	last := events[len(events)-1]
	if last.Result == nil || last.Result.StopReason != StopInterrupted {
		t.Fatalf("expected stop reason %s, got %+v", StopInterrupted, last.Result)
	}
}

func TestRunRetriesRetryableProviderErrorWithinTurn(t *testing.T) {
	retryableErr := providers.StreamEvent{
		Kind: providers.EventError,
		Err:  runtimeerr.NewProviderError(runtimeerr.ProviderTransport, context.DeadlineExceeded),
	}
	provider := &scriptedProvider{scripts: [][]providers.StreamEvent{
		{retryableErr},
		textDoneScript("recovered"),
	}}
	loop, _, sessionID := newTestLoop(t, provider, nil)
	loop.Config.RetryBaseDelay = time.Millisecond

	events := drain(loop.Run(context.Background(), sessionID, "hi"))
	last := events[len(events)-1]
	if last.Result == nil || last.Result.StopReason != StopNoToolCalls {
		t.Fatalf("expected the retried turn to succeed with %s, got %+v", StopNoToolCalls, last.Result)
	}
	if provider.calls != 2 {
		t.Fatalf("expected the provider to be called twice (1 retry), got %d", provider.calls)
	}
}

func TestRunNonRetryableProviderErrorIsTerminal(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]providers.StreamEvent{
		{{Kind: providers.EventError, Err: runtimeerr.NewProviderError(runtimeerr.ProviderAuth, context.Canceled)}},
	}}
	loop, _, sessionID := newTestLoop(t, provider, nil)

	events := drain(loop.Run(context.Background(), sessionID, "hi"))
	last := events[len(events)-1]
	if last.Result == nil || last.Result.StopReason != StopError {
		t.Fatalf("expected stop reason %s, got %+v", StopError, last.Result)
	}
	if last.Result.Err == nil {
		t.Fatal("expected a non-nil error on the terminal result")
	}
}
