package toolregistry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tronrun/tron/pkg/models"
)

// DefaultConcurrency bounds how many Concurrent-mode tool calls from one
// turn may run at the same time.
const DefaultConcurrency = 4

// DispatchResult is the outcome of running every tool call gathered from
// one assistant turn.
type DispatchResult struct {
	// Results is ordered to match the input ToolCall slice, regardless of
	// which calls ran concurrently.
	Results []models.ToolResult
	// StopTurn is true if any executed tool reports StopsTurn() == true;
	// the agent loop must exit once Results have been persisted, ignoring
	// whatever stop reason the provider's stream itself reported.
	StopTurn bool
}

// Dispatcher executes one turn's tool calls against a Registry, honoring
// each tool's declared execution mode and interleaving a GuardrailEngine
// evaluation before every call. Grounded on internal/agent/tool_exec.go's
// ToolExecutor, generalized to mix Sequential and Concurrent tools within
// a single turn rather than running a turn entirely one way or the other.
type Dispatcher struct {
	registry    *Registry
	guardrails  *GuardrailEngine
	concurrency int
}

// NewDispatcher builds a Dispatcher. guardrails may be nil, in which case
// no guardrail evaluation runs (every call is allowed through).
func NewDispatcher(registry *Registry, guardrails *GuardrailEngine) *Dispatcher {
	return &Dispatcher{registry: registry, guardrails: guardrails, concurrency: DefaultConcurrency}
}

// Dispatch runs every call in turn order: a run of consecutive
// Concurrent-mode calls executes as one overlapping batch (bounded by the
// dispatcher's concurrency limit), while a Sequential-mode call always
// runs alone and completes before the next call in the turn starts.
func (d *Dispatcher) Dispatch(ec ExecContext, calls []models.ToolCall) DispatchResult {
	results := make([]models.ToolResult, len(calls))
	stopTurn := false

	i := 0
	for i < len(calls) {
		if d.modeFor(calls[i].Name) == Sequential {
			results[i] = d.executeOne(ec, calls[i])
			if d.stopsTurn(calls[i].Name) {
				stopTurn = true
			}
			i++
			continue
		}

		// Gather the run of consecutive concurrent calls starting at i.
		start := i
		for i < len(calls) && d.modeFor(calls[i].Name) == Concurrent {
			i++
		}
		d.executeBatch(ec, calls[start:i], results[start:i])
		for _, c := range calls[start:i] {
			if d.stopsTurn(c.Name) {
				stopTurn = true
			}
		}
	}

	return DispatchResult{Results: results, StopTurn: stopTurn}
}

func (d *Dispatcher) modeFor(toolName string) ExecutionMode {
	if tool, ok := d.registry.Get(toolName); ok {
		return tool.Mode()
	}
	// An unregistered tool has no concurrency characteristics of its own;
	// treat it as Sequential so its not-found error surfaces in order.
	return Sequential
}

func (d *Dispatcher) stopsTurn(toolName string) bool {
	tool, ok := d.registry.Get(toolName)
	return ok && tool.StopsTurn()
}

func (d *Dispatcher) executeBatch(ec ExecContext, batch []models.ToolCall, out []models.ToolResult) {
	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup
	for idx, call := range batch {
		idx, call := idx, call
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			out[idx] = d.executeOne(ec, call)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) executeOne(ec ExecContext, call models.ToolCall) models.ToolResult {
	tool, ok := d.registry.Get(call.Name)
	if !ok {
		return errorResult(call.ID, "tool %q is not registered", call.Name)
	}

	if d.guardrails != nil {
		var args map[string]any
		if len(call.Input) > 0 {
			_ = json.Unmarshal(call.Input, &args)
		}
		evaluation := d.guardrails.Evaluate(EvaluationContext{
			SessionID:        ec.SessionID,
			ToolName:         call.Name,
			ToolCallID:       call.ID,
			Arguments:        args,
			WorkingDirectory: ec.WorkingDirectory,
		})
		if evaluation.Blocked {
			reason := evaluation.BlockReason
			if reason == "" {
				reason = "blocked by guardrail"
			}
			return errorResult(call.ID, "%s", reason)
		}
	}

	def := tool.Definition()
	if err := validateArguments(def, call.Input); err != nil {
		return errorResult(call.ID, "invalid arguments: %v", err)
	}

	result, err := tool.Execute(ExecContext{
		Ctx:              ec.Ctx,
		ToolCallID:       call.ID,
		SessionID:        ec.SessionID,
		WorkingDirectory: ec.WorkingDirectory,
		SubagentDepth:    ec.SubagentDepth,
	}, call.Input)
	if err != nil {
		return errorResult(call.ID, "%v", err)
	}
	if result == nil {
		return errorResult(call.ID, "tool %q returned no result", call.Name)
	}
	result.ToolCallID = call.ID
	return *result
}

func errorResult(toolCallID, format string, args ...any) models.ToolResult {
	return models.ToolResult{
		ToolCallID: toolCallID,
		Content:    fmt.Sprintf(format, args...),
		IsError:    true,
	}
}
