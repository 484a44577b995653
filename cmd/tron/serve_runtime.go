package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tronrun/tron/internal/agentloop"
	ctxmgr "github.com/tronrun/tron/internal/context"
	"github.com/tronrun/tron/internal/config"
	"github.com/tronrun/tron/internal/eventstore"
	"github.com/tronrun/tron/internal/eventstore/memstore"
	"github.com/tronrun/tron/internal/eventstore/sqlstore"
	"github.com/tronrun/tron/internal/ids"
	"github.com/tronrun/tron/internal/orchestrator"
	"github.com/tronrun/tron/internal/providers"
	"github.com/tronrun/tron/internal/providers/anthropic"
	"github.com/tronrun/tron/internal/providers/openai"
	"github.com/tronrun/tron/internal/rpc"
	"github.com/tronrun/tron/internal/runtimeerr"
	"github.com/tronrun/tron/internal/toolregistry"
	"github.com/tronrun/tron/internal/transport/ws"
)

// runtimeServer bundles the pieces runServe needs to shut down cleanly:
// the orchestrator owning every session, and the WebSocket transport
// fronting it.
type runtimeServer struct {
	orchestrator *orchestrator.Orchestrator
	transport    *ws.Server
}

// modelResolver maps a session's configured model id to the Provider that
// serves it, preferring an exact model match across every configured
// vendor and falling back to the installation's default provider.
type modelResolver struct {
	defaultProvider providers.Provider
	byProvider      map[string]providers.Provider
}

func newModelResolver(cfg *config.Config) (*modelResolver, error) {
	r := &modelResolver{byProvider: make(map[string]providers.Provider)}

	for name, pc := range cfg.LLM.Providers {
		var p providers.Provider
		var err error
		switch name {
		case "anthropic":
			p, err = anthropic.New(anthropic.Config{APIKey: pc.APIKey, BaseURL: pc.BaseURL, DefaultModel: pc.DefaultModel})
		case "openai":
			p, err = openai.New(openai.Config{APIKey: pc.APIKey, BaseURL: pc.BaseURL, DefaultModel: pc.DefaultModel})
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		r.byProvider[name] = p
	}

	if cfg.LLM.DefaultProvider != "" {
		r.defaultProvider = r.byProvider[cfg.LLM.DefaultProvider]
	}
	if r.defaultProvider == nil {
		for _, p := range r.byProvider {
			r.defaultProvider = p
			break
		}
	}
	if r.defaultProvider == nil {
		return nil, fmt.Errorf("no LLM provider configured")
	}
	return r, nil
}

func (r *modelResolver) Resolve(model string) (providers.Provider, error) {
	for _, p := range r.byProvider {
		for _, m := range p.Models() {
			if m.ID == model {
				return p, nil
			}
		}
	}
	if idx := strings.IndexByte(model, '/'); idx > 0 {
		if p, ok := r.byProvider[model[:idx]]; ok {
			return p, nil
		}
	}
	return r.defaultProvider, nil
}

// buildRuntimeServer wires the event store, provider resolver, tool
// registry, context manager, orchestrator, JSON-RPC method registry, and
// WebSocket transport into one servable unit.
func buildRuntimeServer(cfg *config.Config, logger *slog.Logger) (*runtimeServer, error) {
	var store eventstore.Store
	if dbPath := strings.TrimSpace(cfg.Database.URL); dbPath != "" && dbPath != ":memory:" {
		s, err := sqlstore.Open(sqlstore.Config{Path: dbPath})
		if err != nil {
			return nil, fmt.Errorf("failed to open event store: %w", err)
		}
		store = s
	} else {
		store = memstore.New()
	}

	resolver, err := newModelResolver(cfg)
	if err != nil {
		return nil, err
	}

	tools := toolregistry.New()
	guardrails := toolregistry.NewGuardrailEngine(nil)
	dispatcher := toolregistry.NewDispatcher(tools, guardrails)
	manager := ctxmgr.NewManager()

	orch := orchestrator.New(store, resolver, tools, dispatcher, manager, nil, orchestrator.Config{
		MaxConcurrentSessions: 8,
		LoopConfig:            agentloop.Config{},
	})

	registry := rpc.NewRegistry()
	registerRuntimeMethods(registry, orch, tools)

	broadcast := ws.NewBroadcastManager()
	go relayBroadcastEvents(orch, broadcast, logger)

	transport := ws.NewServer(registry, broadcast, logger)
	return &runtimeServer{orchestrator: orch, transport: transport}, nil
}

func relayBroadcastEvents(orch *orchestrator.Orchestrator, broadcast *ws.BroadcastManager, logger *slog.Logger) {
	events, _ := orch.Subscribe()
	for ev := range events {
		payload, err := json.Marshal(map[string]any{
			"event":     ev.Kind,
			"sessionId": ev.SessionID,
			"payload":   broadcastPayload(ev),
		})
		if err != nil {
			logger.Warn("failed to marshal broadcast event", "error", err)
			continue
		}
		broadcast.Broadcast(ev.SessionID, payload)
	}
}

func broadcastPayload(ev orchestrator.BroadcastEvent) any {
	switch ev.Kind {
	case orchestrator.BroadcastLoopEvent:
		return ev.Loop
	case orchestrator.BroadcastAgentComplete:
		if ev.Err != nil {
			return map[string]any{"error": ev.Err.Error()}
		}
		return map[string]any{}
	default:
		return map[string]any{}
	}
}

type sessionCreateParams struct {
	Model            string `json:"model"`
	WorkingDirectory string `json:"workingDirectory"`
	Name             string `json:"name,omitempty"`
}

type sessionIDResult struct {
	SessionID string `json:"sessionId"`
}

type sessionResumeParams struct {
	SessionID string `json:"sessionId"`
}

type promptSendParams struct {
	SessionID string `json:"sessionId"`
	Prompt    string `json:"prompt"`
}

type promptCancelParams struct {
	SessionID string `json:"sessionId"`
}

type promptSendResult struct {
	StopReason    string `json:"stopReason"`
	TurnsExecuted int    `json:"turnsExecuted"`
	Error         string `json:"error,omitempty"`
}

// registerRuntimeMethods wires every required JSON-RPC method onto the
// orchestrator. Methods with no owning subsystem in this runtime report
// NOT_AVAILABLE rather than being silently absent from the registry, so
// callers see a stable, documented error rather than METHOD_NOT_FOUND.
func registerRuntimeMethods(registry *rpc.Registry, orch *orchestrator.Orchestrator, tools *toolregistry.Registry) {
	registry.Register("session.create", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p sessionCreateParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, rpc.NewError(runtimeerr.CodeInvalidParams, err.Error())
		}
		if strings.TrimSpace(p.Model) == "" {
			return nil, rpc.NewError(runtimeerr.CodeInvalidParams, "model is required")
		}
		id, err := orch.Create(ctx, p.Model, p.WorkingDirectory, p.Name)
		if err != nil {
			return nil, err
		}
		return sessionIDResult{SessionID: string(id)}, nil
	})

	registry.Register("session.resume", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p sessionResumeParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, rpc.NewError(runtimeerr.CodeInvalidParams, err.Error())
		}
		if err := orch.Resume(ctx, ids.SessionID(p.SessionID)); err != nil {
			return nil, err
		}
		return sessionIDResult{SessionID: p.SessionID}, nil
	})

	registry.Register("session.list", func(ctx context.Context, raw json.RawMessage) (any, error) {
		return map[string]any{"sessions": orch.Sessions()}, nil
	})

	registry.Register("prompt.send", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p promptSendParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, rpc.NewError(runtimeerr.CodeInvalidParams, err.Error())
		}
		result, err := orch.Run(ctx, ids.SessionID(p.SessionID), p.Prompt)
		if err != nil {
			return nil, err
		}
		out := promptSendResult{StopReason: string(result.StopReason), TurnsExecuted: result.TurnsExecuted}
		if result.Err != nil {
			out.Error = result.Err.Error()
		}
		return out, nil
	})

	registry.Register("prompt.cancel", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p promptCancelParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, rpc.NewError(runtimeerr.CodeInvalidParams, err.Error())
		}
		orch.Cancel(ids.SessionID(p.SessionID))
		return map[string]any{}, nil
	})

	notAvailable := func(feature string) rpc.Handler {
		return func(ctx context.Context, raw json.RawMessage) (any, error) {
			return nil, rpc.NewError(runtimeerr.CodeNotAvailable, feature+" is not available in this runtime")
		}
	}
	registry.Register("tool.list", func(ctx context.Context, raw json.RawMessage) (any, error) {
		return map[string]any{"tools": tools.Definitions()}, nil
	})
	registry.Register("skill.list", notAvailable("skill.list"))
	registry.Register("skill.get", notAvailable("skill.get"))
	registry.Register("skill.refresh", notAvailable("skill.refresh"))
	registry.Register("skill.remove", notAvailable("skill.remove"))
	registry.Register("settings.get", notAvailable("settings.get"))
	registry.Register("settings.update", notAvailable("settings.update"))
	registry.Register("device.register", notAvailable("device.register"))
	registry.Register("device.unregister", notAvailable("device.unregister"))
	registry.Register("transcribe.audio", notAvailable("transcribe.audio"))
	registry.Register("transcribe.listModels", notAvailable("transcribe.listModels"))
	registry.Register("git.clone", notAvailable("git.clone"))
}
