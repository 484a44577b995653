// Package agentloop drives a single prompt to its terminal state, grounded
// on internal/agent/loop.go's AgenticLoop (Init → Stream → ExecuteTools →
// Complete/Continue state machine, spawn-goroutine-and-return-a-channel
// shape, per-iteration persistence helpers), generalized from
// models.Message/sessions.Store/ToolRegistry onto providers.Message/
// eventstore.Store/toolregistry.Dispatcher.
package agentloop

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	ctxmgr "github.com/tronrun/tron/internal/context"
	"github.com/tronrun/tron/internal/eventstore"
	"github.com/tronrun/tron/internal/ids"
	"github.com/tronrun/tron/internal/providers"
	"github.com/tronrun/tron/internal/runtimeerr"
	"github.com/tronrun/tron/internal/tokens"
	"github.com/tronrun/tron/internal/toolregistry"
	"github.com/tronrun/tron/pkg/models"
)

// StopReason is the terminal reason a Run exited.
type StopReason string

const (
	StopNoToolCalls StopReason = "no_tool_calls"
	StopToolStop    StopReason = "tool_stop"
	StopMaxTurns    StopReason = "max_turns"
	StopError       StopReason = "error"
	StopInterrupted StopReason = "interrupted"
)

// RunResult is returned (wrapped in the terminal Event) once a Run reaches
// a terminal state.
type RunResult struct {
	StopReason    StopReason
	TurnsExecuted int
	Err           error
}

// HookDrainer drains background work queued by the previous run before a
// new one begins. Callers that have no
// hook engine to drain may pass nil.
type HookDrainer interface {
	Drain(ctx context.Context, sessionID ids.SessionID) error
}

// Config tunes a Loop's turn cap and within-turn provider retry policy.
type Config struct {
	// MaxTurns caps turns_executed per Run. Default: 10.
	MaxTurns int
	// MaxRetries bounds retries of a retryable provider error within the
	// same turn before it is surfaced as a terminal error. Default: 2.
	MaxRetries int
	// RetryBaseDelay is the initial backoff between retries, doubling each
	// attempt. Default: 250ms.
	RetryBaseDelay time.Duration
}

func (c Config) sanitized() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = 10
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 250 * time.Millisecond
	}
	return c
}

// EventKind tags what a broadcast Event carries.
type EventKind string

const (
	KindTextDelta        EventKind = "text_delta"
	KindThinkingDelta    EventKind = "thinking_delta"
	KindMessageUser      EventKind = "message_user"
	KindMessageAssistant EventKind = "message_assistant"
	KindToolResult       EventKind = "tool_result"
	KindTurnEnd          EventKind = "stream_turn_end"
	KindRunComplete      EventKind = "run_complete"
)

// Event is one element of a Run's broadcast stream. TextDelta/ThinkingDelta
// carry only Delta and are never persisted. Every
// other kind wraps the eventstore.Event that was just appended, except the
// terminal RunComplete, which carries the Run's RunResult instead.
type Event struct {
	Kind      EventKind
	Delta     string
	Persisted *eventstore.Event
	Result    *RunResult
}

// Loop drives one session's agent loop: stream a turn from the provider,
// execute any tool calls it produced, and repeat until a terminal
// condition is reached.
type Loop struct {
	Provider   providers.Provider
	Store      eventstore.Store
	Dispatcher *toolregistry.Dispatcher
	Tools      *toolregistry.Registry
	Manager    *ctxmgr.Manager
	Hooks      HookDrainer
	Config     Config
}

// New builds a Loop with Config defaults applied.
func New(provider providers.Provider, store eventstore.Store, dispatcher *toolregistry.Dispatcher, tools *toolregistry.Registry, manager *ctxmgr.Manager, hooks HookDrainer, cfg Config) *Loop {
	return &Loop{
		Provider:   provider,
		Store:      store,
		Dispatcher: dispatcher,
		Tools:      tools,
		Manager:    manager,
		Hooks:      hooks,
		Config:     cfg.sanitized(),
	}
}

// Run drives prompt to a terminal RunResult, delivered as the final Event
// on the returned channel, which is then closed. Every intermediate event
// is delivered in production order before it.
func (l *Loop) Run(ctx context.Context, sessionID ids.SessionID, prompt string) <-chan Event {
	out := make(chan Event, 64)
	go l.run(ctx, sessionID, prompt, out)
	return out
}

func (l *Loop) run(ctx context.Context, sessionID ids.SessionID, prompt string, out chan<- Event) {
	defer close(out)

	if l.Hooks != nil {
		_ = l.Hooks.Drain(ctx, sessionID)
	}

	userMsg := models.SessionMessage{
		Role:       models.SessionMessageUser,
		UserBlocks: []models.UserBlock{{Kind: models.UserBlockText, Text: prompt}},
	}
	ev, err := l.Store.Append(ctx, sessionID, eventstore.EventMessageUser, userMsg, nil)
	if err != nil {
		l.finish(out, RunResult{StopReason: StopError, Err: err})
		return
	}
	out <- Event{Kind: KindMessageUser, Persisted: &ev}

	turnsExecuted := 0
	previousBaseline := 0

	for turnsExecuted < l.Config.MaxTurns {
		if ctx.Err() != nil {
			l.interrupt(ctx, sessionID, out, turnsExecuted)
			return
		}

		mem, err := l.Store.Reconstruct(ctx, sessionID)
		if err != nil {
			l.finish(out, RunResult{StopReason: StopError, TurnsExecuted: turnsExecuted, Err: err})
			return
		}

		maxTokens := ctxmgr.NewWindowForModel(mem.Model).Info().TotalTokens
		pctx := l.Manager.BuildContext(mem.Model, mem.SystemPrompt, toProviderMessages(mem.Messages), toProviderTools(l.Tools), maxTokens, previousBaseline)

		textBuilder, thinkingBuilder := &strings.Builder{}, &strings.Builder{}
		var pendingCalls []pendingToolCall
		stopReason, usage, retryErr := l.streamTurn(ctx, pctx, out, textBuilder, thinkingBuilder, &pendingCalls)
		if retryErr != nil {
			l.finish(out, RunResult{StopReason: StopError, TurnsExecuted: turnsExecuted, Err: retryErr})
			return
		}
		if ctx.Err() != nil {
			l.interrupt(ctx, sessionID, out, turnsExecuted)
			return
		}

		norm := tokens.Normalize(usage, l.Provider.Kind(), previousBaseline)
		previousBaseline = norm.ContextWindow

		assistantMsg := buildAssistantMessage(textBuilder.String(), thinkingBuilder.String(), pendingCalls)
		ev, err := l.Store.Append(ctx, sessionID, eventstore.EventMessageAssistant, assistantMsg, nil)
		if err != nil {
			l.finish(out, RunResult{StopReason: StopError, TurnsExecuted: turnsExecuted, Err: err})
			return
		}
		out <- Event{Kind: KindMessageAssistant, Persisted: &ev}
		turnsExecuted++

		_ = stopReason // stream-level StopReason is informational; tool presence decides the loop's own stop_reason below.

		if len(pendingCalls) == 0 {
			l.finish(out, RunResult{StopReason: StopNoToolCalls, TurnsExecuted: turnsExecuted})
			return
		}

		calls := make([]models.ToolCall, len(pendingCalls))
		for i, pc := range pendingCalls {
			calls[i] = models.ToolCall{ID: pc.id, Name: pc.name, Input: json.RawMessage(pc.arguments)}
		}
		ec := toolregistry.ExecContext{Ctx: ctx, SessionID: string(sessionID), WorkingDirectory: mem.WorkingDirectory}
		dispatchResult := l.Dispatcher.Dispatch(ec, calls)

		for _, res := range dispatchResult.Results {
			resultMsg := models.SessionMessage{
				Role:             models.SessionMessageToolResult,
				ToolResultBlocks: []models.ToolResultBlock{{Kind: models.ToolResultBlockText, Text: res.Content}},
				ToolResultCallID: res.ToolCallID,
			}
			ev, err := l.Store.Append(ctx, sessionID, eventstore.EventToolResult, resultMsg, nil)
			if err != nil {
				l.finish(out, RunResult{StopReason: StopError, TurnsExecuted: turnsExecuted, Err: err})
				return
			}
			out <- Event{Kind: KindToolResult, Persisted: &ev}
		}

		if dispatchResult.StopTurn {
			l.finish(out, RunResult{StopReason: StopToolStop, TurnsExecuted: turnsExecuted})
			return
		}
	}

	l.finish(out, RunResult{StopReason: StopMaxTurns, TurnsExecuted: turnsExecuted})
}

// streamTurn consumes one provider.Stream call (plus retries of
// retryable provider errors within the same turn, per the loop's
// failure semantics), buffering text/thinking/tool-call content into the
// caller's builders and slice, and forwarding TextDelta/ThinkingDelta as
// ephemeral broadcast Events.
func (l *Loop) streamTurn(ctx context.Context, pctx providers.Context, out chan<- Event, textBuilder, thinkingBuilder *strings.Builder, pendingCalls *[]pendingToolCall) (providers.StopReason, tokens.Usage, error) {
	attempt := 0
	delay := l.Config.RetryBaseDelay

retryLoop:
	for {
		events, err := l.Provider.Stream(ctx, pctx, providers.Options{})
		if err != nil {
			return "", tokens.Usage{}, err
		}

		var toolArgs map[string]*strings.Builder
		for ev := range events {
			switch ev.Kind {
			case providers.EventTextDelta:
				textBuilder.WriteString(ev.Delta)
				out <- Event{Kind: KindTextDelta, Delta: ev.Delta}
			case providers.EventThinkingDelta:
				thinkingBuilder.WriteString(ev.Delta)
				out <- Event{Kind: KindThinkingDelta, Delta: ev.Delta}
			case providers.EventToolCallArgumentsDelta:
				if toolArgs == nil {
					toolArgs = make(map[string]*strings.Builder)
				}
				b, ok := toolArgs[ev.ToolCallID]
				if !ok {
					b = &strings.Builder{}
					toolArgs[ev.ToolCallID] = b
				}
				b.WriteString(ev.Delta)
			case providers.EventToolCallEnd:
				args := ev.ToolCallArguments
				if args == "" {
					if b, ok := toolArgs[ev.ToolCallID]; ok {
						args = b.String()
					}
				}
				*pendingCalls = append(*pendingCalls, pendingToolCall{id: ev.ToolCallID, name: ev.ToolCallName, arguments: args})
			case providers.EventDone:
				return ev.StopReason, ev.Usage, nil
			case providers.EventError:
				if ev.Err != nil && ev.Err.Retryable() && attempt < l.Config.MaxRetries {
					attempt++
					select {
					case <-ctx.Done():
						return "", tokens.Usage{}, ctx.Err()
					case <-time.After(delay):
					}
					delay *= 2
					continue retryLoop
				}
				var cause error = ev.Err
				if cause == nil {
					cause = runtimeerr.New(runtimeerr.CodeInternal, "provider stream ended in error with no detail")
				}
				return "", tokens.Usage{}, cause
			}
		}
		// Channel closed without a terminal event: treat as a transport error.
		return "", tokens.Usage{}, runtimeerr.New(runtimeerr.CodeInternal, "provider stream closed without a terminal event")
	}
}

func (l *Loop) interrupt(ctx context.Context, sessionID ids.SessionID, out chan<- Event, turnsExecuted int) {
	payload := struct {
		Reason string `json:"reason"`
	}{Reason: "interrupted"}
	ev, err := l.Store.Append(context.Background(), sessionID, eventstore.EventStreamTurnEnd, payload, nil)
	if err == nil {
		out <- Event{Kind: KindTurnEnd, Persisted: &ev}
	}
	l.finish(out, RunResult{StopReason: StopInterrupted, TurnsExecuted: turnsExecuted, Err: ctx.Err()})
}

func (l *Loop) finish(out chan<- Event, result RunResult) {
	out <- Event{Kind: KindRunComplete, Result: &result}
}

type pendingToolCall struct {
	id        string
	name      string
	arguments string
}

// buildAssistantMessage assembles the canonical assistant SessionMessage
// from the parts buffered while streaming one turn, once a Done event
// closes it out.
func buildAssistantMessage(text, thinking string, calls []pendingToolCall) models.SessionMessage {
	var blocks []models.AssistantBlock
	if text != "" {
		blocks = append(blocks, models.AssistantBlock{Kind: models.AssistantBlockText, Text: text})
	}
	if thinking != "" {
		blocks = append(blocks, models.AssistantBlock{Kind: models.AssistantBlockThinking, Thinking: thinking})
	}
	for _, c := range calls {
		blocks = append(blocks, models.AssistantBlock{
			Kind:         models.AssistantBlockToolCall,
			ToolCallID:   c.id,
			ToolCallName: c.name,
			ToolCallArgs: json.RawMessage(c.arguments),
		})
	}
	return models.SessionMessage{Role: models.SessionMessageAssistant, AssistantBlocks: blocks}
}

func toProviderMessages(msgs []models.SessionMessage) []providers.Message {
	out := make([]providers.Message, len(msgs))
	for i, m := range msgs {
		out[i] = providers.Message{
			Role:             m.Role,
			UserBlocks:       m.UserBlocks,
			AssistantBlocks:  m.AssistantBlocks,
			ToolResultBlocks: m.ToolResultBlocks,
			ToolResultCallID: m.ToolResultCallID,
		}
	}
	return out
}

func toProviderTools(reg *toolregistry.Registry) []providers.ToolDefinition {
	if reg == nil {
		return nil
	}
	defs := reg.Definitions()
	out := make([]providers.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = providers.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: []byte(d.Parameters)}
	}
	return out
}
