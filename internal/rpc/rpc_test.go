package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/tronrun/tron/internal/runtimeerr"
)

func TestDispatchUnknownMethodReportsMethodNotFound(t *testing.T) {
	r := NewRegistry()
	resp := r.Dispatch(context.Background(), Request{ID: "1", Method: "nope"})
	if resp.Success {
		t.Fatal("expected failure for an unregistered method")
	}
	if resp.Error == nil || resp.Error.Code != runtimeerr.CodeMethodNotFound {
		t.Fatalf("expected METHOD_NOT_FOUND, got %+v", resp.Error)
	}
}

func TestDispatchSuccessReturnsResult(t *testing.T) {
	r := NewRegistry()
	r.Register("ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return map[string]any{"pong": true}, nil
	})

	resp := r.Dispatch(context.Background(), Request{ID: "2", Method: "ping"})
	if !resp.Success {
		t.Fatalf("expected success, got error %+v", resp.Error)
	}
	if resp.Result == nil {
		t.Fatal("expected a non-nil result")
	}
}

func TestDispatchRuntimeErrorMapsToCoderCode(t *testing.T) {
	r := NewRegistry()
	r.Register("resume", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, &runtimeerr.SessionNotFoundError{SessionID: "abc"}
	})

	resp := r.Dispatch(context.Background(), Request{ID: "3", Method: "resume"})
	if resp.Success {
		t.Fatal("expected failure")
	}
	if resp.Error.Code != runtimeerr.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", resp.Error.Code)
	}
}

func TestDispatchPlainErrorMapsToInternal(t *testing.T) {
	r := NewRegistry()
	r.Register("boom", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, errors.New("unexpected failure")
	})

	resp := r.Dispatch(context.Background(), Request{ID: "4", Method: "boom"})
	if resp.Error.Code != runtimeerr.CodeInternal {
		t.Fatalf("expected INTERNAL_ERROR, got %s", resp.Error.Code)
	}
}

func TestDispatchHandlerReturnedRPCErrorPassesThrough(t *testing.T) {
	r := NewRegistry()
	r.Register("validate", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, NewError(runtimeerr.CodeInvalidParams, "missing field content")
	})

	resp := r.Dispatch(context.Background(), Request{ID: "5", Method: "validate"})
	if resp.Error.Code != runtimeerr.CodeInvalidParams {
		t.Fatalf("expected INVALID_PARAMS, got %s", resp.Error.Code)
	}
}

func TestMethodsListsRegistered(t *testing.T) {
	r := NewRegistry()
	r.Register("a", func(ctx context.Context, params json.RawMessage) (any, error) { return nil, nil })
	r.Register("b", func(ctx context.Context, params json.RawMessage) (any, error) { return nil, nil })

	methods := r.Methods()
	if len(methods) != 2 {
		t.Fatalf("expected 2 methods, got %d: %v", len(methods), methods)
	}
}
