package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func echoTool() (ToolDefinition, Handler) {
	def := ToolDefinition{
		Name:        "echo",
		Description: "echoes its message argument",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"message"},
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
			},
		},
	}
	handler := func(ctx context.Context, args json.RawMessage) (any, error) {
		var params struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(args, &params)
		return map[string]string{"echoed": params.Message}, nil
	}
	return def, handler
}

func failingTool() (ToolDefinition, Handler) {
	def := ToolDefinition{Name: "boom", InputSchema: map[string]any{"type": "object"}}
	handler := func(ctx context.Context, args json.RawMessage) (any, error) {
		return nil, errors.New("kaboom")
	}
	return def, handler
}

func TestRegistry_RegisterAndList(t *testing.T) {
	r := NewRegistry()
	def, handler := echoTool()
	if err := r.Register(def, handler); err != nil {
		t.Fatalf("register: %v", err)
	}
	list := r.List()
	if len(list) != 1 || list[0].Name != "echo" {
		t.Fatalf("expected one echo descriptor, got %+v", list)
	}
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	r := NewRegistry()
	def, handler := echoTool()
	_ = r.Register(def, handler)
	if err := r.Register(def, handler); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestRegistry_Call_MissingRequiredParam(t *testing.T) {
	r := NewRegistry()
	def, handler := echoTool()
	_ = r.Register(def, handler)

	_, rpcErr := r.Call(context.Background(), CallRequest{Name: "echo", Arguments: json.RawMessage(`{}`)})
	if rpcErr == nil || rpcErr.Code != CodeInvalidParams {
		t.Fatalf("expected invalid params error, got %+v", rpcErr)
	}
}

func TestRegistry_Call_Success(t *testing.T) {
	r := NewRegistry()
	def, handler := echoTool()
	_ = r.Register(def, handler)

	result, rpcErr := r.Call(context.Background(), CallRequest{Name: "echo", Arguments: json.RawMessage(`{"message":"hi"}`)})
	if rpcErr != nil {
		t.Fatalf("unexpected error: %+v", rpcErr)
	}
	if len(result.Content) != 1 || result.Content[0].Type != "text" {
		t.Fatalf("expected one text content block, got %+v", result)
	}
}

func TestRegistry_Call_UnknownTool(t *testing.T) {
	r := NewRegistry()
	_, rpcErr := r.Call(context.Background(), CallRequest{Name: "nope"})
	if rpcErr == nil || rpcErr.Code != CodeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", rpcErr)
	}
}

func TestRegistry_Call_HandlerErrorRecordsMetric(t *testing.T) {
	r := NewRegistry()
	def, handler := failingTool()
	_ = r.Register(def, handler)

	_, rpcErr := r.Call(context.Background(), CallRequest{Name: "boom"})
	if rpcErr == nil {
		t.Fatal("expected handler error to surface")
	}

	snap := r.Metrics().Snapshot()
	m := snap["boom"]
	if m.ErrorCount != 1 || m.SuccessCount != 0 {
		t.Fatalf("expected one recorded error, got %+v", m)
	}
	if m.ExecutionCount != m.SuccessCount+m.ErrorCount {
		t.Fatalf("executionCount invariant violated: %+v", m)
	}
}
