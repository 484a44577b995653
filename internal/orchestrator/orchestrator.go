// Package orchestrator owns every active session, enforces the
// concurrency cap, and guarantees the complete-then-ready ordering
// contract clients depend on.
//
// Grounded directly on original_source's agent_runner.rs: run a session's
// agent loop in one goroutine that forwards its events to the broadcast
// bus for the run's duration, stop forwarding once the loop finishes,
// unconditionally emit agent.complete, drain background hook work, then
// unconditionally emit agent.ready — same-goroutine sequential emission,
// not a race between two producers, which is what makes the ordering
// guarantee hold even on error, cancellation, or a max-turn exit.
package orchestrator

import (
	"context"
	"sync"

	"github.com/tronrun/tron/internal/agentloop"
	ctxmgr "github.com/tronrun/tron/internal/context"
	"github.com/tronrun/tron/internal/eventstore"
	"github.com/tronrun/tron/internal/ids"
	"github.com/tronrun/tron/internal/providers"
	"github.com/tronrun/tron/internal/runtimeerr"
	"github.com/tronrun/tron/internal/toolregistry"
)

// ProviderResolver maps a session's configured model name to the Provider
// that serves it, since a single installation may speak to several
// vendors across its live sessions.
type ProviderResolver interface {
	Resolve(model string) (providers.Provider, error)
}

// BroadcastKind tags what a BroadcastEvent carries.
type BroadcastKind string

const (
	// BroadcastLoopEvent wraps one event produced by a session's agent loop.
	BroadcastLoopEvent BroadcastKind = "loop_event"
	// BroadcastAgentComplete is agent.complete: the loop reached a
	// terminal state. Always emitted, successful or not.
	BroadcastAgentComplete BroadcastKind = "agent.complete"
	// BroadcastAgentReady is agent.ready: the session is free to accept
	// its next prompt. Always emitted, and always after AgentComplete.
	BroadcastAgentReady BroadcastKind = "agent.ready"
)

// BroadcastEvent is one element of the orchestrator's broadcast bus.
type BroadcastEvent struct {
	Kind      BroadcastKind
	SessionID ids.SessionID
	Loop      *agentloop.Event // set when Kind == BroadcastLoopEvent
	Err       error            // set when Kind == BroadcastAgentComplete and the run failed
}

// Config tunes the orchestrator's resource limits.
type Config struct {
	// MaxConcurrentSessions bounds how many sessions may have a run
	// in flight at once; additional Run calls block until a slot frees.
	// Default: 4.
	MaxConcurrentSessions int
	LoopConfig            agentloop.Config
}

func (c Config) sanitized() Config {
	if c.MaxConcurrentSessions <= 0 {
		c.MaxConcurrentSessions = 4
	}
	return c
}

type sessionState struct {
	busy   bool
	cancel context.CancelFunc
}

// Orchestrator owns every active session's lifecycle and the single
// broadcast bus clients subscribe to.
type Orchestrator struct {
	store      eventstore.Store
	resolver   ProviderResolver
	tools      *toolregistry.Registry
	dispatcher *toolregistry.Dispatcher
	manager    *ctxmgr.Manager
	hooks      agentloop.HookDrainer
	config     Config

	sem chan struct{}

	mu       sync.Mutex
	sessions map[ids.SessionID]*sessionState

	subMu     sync.Mutex
	subs      map[int]chan BroadcastEvent
	nextSubID int
}

// New builds an Orchestrator. Every argument but cfg is shared across all
// sessions it manages.
func New(store eventstore.Store, resolver ProviderResolver, tools *toolregistry.Registry, dispatcher *toolregistry.Dispatcher, manager *ctxmgr.Manager, hooks agentloop.HookDrainer, cfg Config) *Orchestrator {
	cfg = cfg.sanitized()
	return &Orchestrator{
		store:      store,
		resolver:   resolver,
		tools:      tools,
		dispatcher: dispatcher,
		manager:    manager,
		hooks:      hooks,
		config:     cfg,
		sem:        make(chan struct{}, cfg.MaxConcurrentSessions),
		sessions:   make(map[ids.SessionID]*sessionState),
	}
}

// sessionStartPayload mirrors eventstore's unexported session_start
// payload shape (model, working_directory, system_prompt).
type sessionStartPayload struct {
	Model            string `json:"model"`
	WorkingDirectory string `json:"working_directory"`
	SystemPrompt     string `json:"system_prompt"`
	Name             string `json:"name,omitempty"`
}

// Create allocates a fresh session: writes session_start and registers
// its lifecycle state as idle.
func (o *Orchestrator) Create(ctx context.Context, model, workingDir, name string) (ids.SessionID, error) {
	sessionID := ids.NewSessionID()
	if _, err := o.store.Append(ctx, sessionID, eventstore.EventSessionStart, sessionStartPayload{
		Model:            model,
		WorkingDirectory: workingDir,
		Name:             name,
	}, nil); err != nil {
		return "", err
	}

	o.mu.Lock()
	o.sessions[sessionID] = &sessionState{}
	o.mu.Unlock()

	return sessionID, nil
}

// Resume reloads a session's replayed state into memory; resumption is
// just replay, and an idle resumed session does nothing until a prompt
// arrives. Returns SessionNotFoundError if the session has no event log.
func (o *Orchestrator) Resume(ctx context.Context, sessionID ids.SessionID) error {
	if _, err := o.store.Reconstruct(ctx, sessionID); err != nil {
		return &runtimeerr.SessionNotFoundError{SessionID: string(sessionID)}
	}

	o.mu.Lock()
	if _, ok := o.sessions[sessionID]; !ok {
		o.sessions[sessionID] = &sessionState{}
	}
	o.mu.Unlock()
	return nil
}

// Sessions lists the ids of every session currently known to the
// orchestrator (created or resumed this process lifetime), in no
// particular order.
func (o *Orchestrator) Sessions() []ids.SessionID {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ids.SessionID, 0, len(o.sessions))
	for id := range o.sessions {
		out = append(out, id)
	}
	return out
}

// Run atomically marks sessionID busy, drives its agent loop to a
// terminal RunResult, and marks it idle again — guaranteeing the
// complete-then-ready ordering on the broadcast bus regardless of how the
// run ends. Rejects with SessionBusyError if a run is already in flight.
func (o *Orchestrator) Run(ctx context.Context, sessionID ids.SessionID, prompt string) (agentloop.RunResult, error) {
	state, err := o.claim(sessionID)
	if err != nil {
		return agentloop.RunResult{}, err
	}

	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		o.release(sessionID)
		return agentloop.RunResult{}, ctx.Err()
	}
	defer func() { <-o.sem }()
	defer o.release(sessionID)

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	state.cancel = cancel
	o.mu.Unlock()
	defer cancel()

	mem, err := o.store.Reconstruct(runCtx, sessionID)
	if err != nil {
		o.finish(sessionID, err)
		return agentloop.RunResult{}, err
	}

	provider, err := o.resolver.Resolve(mem.Model)
	if err != nil {
		o.finish(sessionID, err)
		return agentloop.RunResult{}, err
	}

	loop := agentloop.New(provider, o.store, o.dispatcher, o.tools, o.manager, o.hooks, o.config.LoopConfig)

	var result agentloop.RunResult
	for ev := range loop.Run(runCtx, sessionID, prompt) {
		if ev.Kind == agentloop.KindRunComplete {
			if ev.Result != nil {
				result = *ev.Result
			}
			continue
		}
		o.broadcast(BroadcastEvent{Kind: BroadcastLoopEvent, SessionID: sessionID, Loop: &ev})
	}
	// Event forwarding is over: the range above only returns once the
	// loop's channel is closed, which happens after its own terminal
	// event has already been sent — no separate "stop forwarding" step
	// is needed the way a spawned-goroutine forwarder would require one.

	o.finish(sessionID, result.Err)
	return result, nil
}

// finish emits agent.complete, drains background hook work, then emits
// agent.ready, in that order, unconditionally.
func (o *Orchestrator) finish(sessionID ids.SessionID, runErr error) {
	o.broadcast(BroadcastEvent{Kind: BroadcastAgentComplete, SessionID: sessionID, Err: runErr})

	if o.hooks != nil {
		_ = o.hooks.Drain(context.Background(), sessionID)
	}

	o.broadcast(BroadcastEvent{Kind: BroadcastAgentReady, SessionID: sessionID})
}

// Cancel cancels sessionID's in-flight agent loop, if any. A no-op if the
// session has no run in flight.
func (o *Orchestrator) Cancel(sessionID ids.SessionID) {
	o.mu.Lock()
	state, ok := o.sessions[sessionID]
	var cancel context.CancelFunc
	if ok {
		cancel = state.cancel
	}
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Subscribe returns a hot stream of every BroadcastEvent emitted from
// this point on, and an unsubscribe function that stops delivery and
// releases the channel.
func (o *Orchestrator) Subscribe() (<-chan BroadcastEvent, func()) {
	ch := make(chan BroadcastEvent, 256)

	o.subMu.Lock()
	id := o.nextSubID
	o.nextSubID++
	if o.subs == nil {
		o.subs = make(map[int]chan BroadcastEvent)
	}
	o.subs[id] = ch
	o.subMu.Unlock()

	unsubscribe := func() {
		o.subMu.Lock()
		delete(o.subs, id)
		o.subMu.Unlock()
		close(ch)
	}
	return ch, unsubscribe
}

func (o *Orchestrator) broadcast(ev BroadcastEvent) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- ev:
		default:
			// A slow subscriber never blocks the run; the event log
			// remains the authoritative record regardless of fan-out.
		}
	}
}

func (o *Orchestrator) claim(sessionID ids.SessionID) (*sessionState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	state, ok := o.sessions[sessionID]
	if !ok {
		return nil, &runtimeerr.SessionNotFoundError{SessionID: string(sessionID)}
	}
	if state.busy {
		return nil, &runtimeerr.SessionBusyError{SessionID: string(sessionID)}
	}
	state.busy = true
	return state, nil
}

func (o *Orchestrator) release(sessionID ids.SessionID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if state, ok := o.sessions[sessionID]; ok {
		state.busy = false
		state.cancel = nil
	}
}
