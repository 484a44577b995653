package toolregistry

import "sync"

// Registry holds the tools available to one agent loop, keyed by name.
// Registration is last-writer-wins: registering a name already present
// replaces the previous tool silently, matching internal/agent/
// tool_registry.go's ToolRegistry.Register.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds tool, replacing any existing tool of the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool by name. It is a no-op if the name is absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Remove is an alias of Unregister, kept distinct since both verbs appear
// in the registry's operation list.
func (r *Registry) Remove(name string) {
	r.Unregister(name)
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns every registered tool in no particular order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Definitions returns the JSON-schema definitions of every registered tool,
// the shape handed to a provider for one Stream call.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition())
	}
	return out
}

// SubagentFilter returns a new Registry suitable for handing to a spawned
// subagent: it excludes callerTool (the tool that is doing the spawning,
// so a subagent can't recursively invoke the tool that created it) and
// every tool reporting IsInteractive() == true, since a subagent has no
// human in the loop to satisfy an interactive tool's approval step.
func (r *Registry) SubagentFilter(callerTool string) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	filtered := New()
	for name, t := range r.tools {
		if name == callerTool {
			continue
		}
		if t.IsInteractive() {
			continue
		}
		filtered.tools[name] = t
	}
	return filtered
}
