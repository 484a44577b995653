// Package rpc implements the JSON-RPC-over-WebSocket request/response
// envelope and method registry: {id, method, params?} requests dispatch
// through a registered handler to {id, success, result?, error?} responses.
// Grounded on internal/gateway/ws_control_plane.go's wsFrame request/
// response shape, generalized from its switch-on-method handleRequest
// into a registerable method table so methods can be wired up
// independently of the transport package.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tronrun/tron/internal/runtimeerr"
)

// Request is one inbound call: {id, method, params?}.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the matching reply: {id, success, result?, error?}.
type Response struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error is the {code, message, details?} envelope for a failed call.
type Error struct {
	Code    runtimeerr.Code `json:"code"`
	Message string          `json:"message"`
	Details any             `json:"details,omitempty"`
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// NewError builds an Error response payload directly; handlers that need
// to report INVALID_PARAMS, NOT_FOUND, or NOT_AVAILABLE without an
// underlying runtimeerr type can return one of these.
func NewError(code runtimeerr.Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Coder is implemented by every runtimeerr typed error; it lets Dispatch
// map an arbitrary domain error onto a stable envelope code without a
// type switch over every error type the runtime defines.
type Coder interface {
	RPCCode() runtimeerr.Code
}

// Handler executes one RPC method. Returning a *rpc.Error or any error
// implementing Coder controls the envelope's error code; any other error
// is reported as CodeInternal with its message (never its wrapped cause,
// which is never surfaced to clients).
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Registry maps method names to Handlers. A zero Registry is not usable;
// build one with NewRegistry.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry builds an empty method registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for method.
func (r *Registry) Register(method string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = h
}

// Methods lists every registered method name.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		out = append(out, m)
	}
	return out
}

// Dispatch looks up req.Method and invokes its handler, translating the
// result (or any error) into a Response. An unknown method reports
// METHOD_NOT_FOUND without invoking anything.
func (r *Registry) Dispatch(ctx context.Context, req Request) Response {
	r.mu.RLock()
	h, ok := r.handlers[req.Method]
	r.mu.RUnlock()

	if !ok {
		return Response{ID: req.ID, Success: false, Error: NewError(
			runtimeerr.CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method),
		)}
	}

	result, err := h(ctx, req.Params)
	if err != nil {
		return Response{ID: req.ID, Success: false, Error: toRPCError(err)}
	}
	return Response{ID: req.ID, Success: true, Result: result}
}

func toRPCError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	var coder Coder
	if errors.As(err, &coder) {
		return NewError(coder.RPCCode(), err.Error())
	}
	return NewError(runtimeerr.CodeInternal, err.Error())
}
