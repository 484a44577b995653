// Package ids provides the distinct opaque identifier types used across the
// runtime (session, agent, tool-call, workspace, client) plus a time-ordered
// generator for fresh values.
package ids

import "github.com/google/uuid"

// SessionID identifies a conversation's event-sourced lifetime.
type SessionID string

// AgentID identifies a configured agent definition.
type AgentID string

// ToolCallID identifies one tool invocation within an assistant turn.
type ToolCallID string

// WorkspaceID identifies a working-directory scope.
type WorkspaceID string

// ClientID identifies one WebSocket connection.
type ClientID string

// New returns a fresh, time-ordered unique string (UUIDv7). IDs are never
// reused. Falls back to a random UUIDv4 if the v7 generator errors, which
// only happens if the system entropy source is unavailable.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewSessionID returns a fresh SessionID.
func NewSessionID() SessionID { return SessionID(New()) }

// NewAgentID returns a fresh AgentID.
func NewAgentID() AgentID { return AgentID(New()) }

// NewToolCallID returns a fresh ToolCallID.
func NewToolCallID() ToolCallID { return ToolCallID(New()) }

// NewWorkspaceID returns a fresh WorkspaceID.
func NewWorkspaceID() WorkspaceID { return WorkspaceID(New()) }

// NewClientID returns a fresh ClientID.
func NewClientID() ClientID { return ClientID(New()) }
