package rpc

import (
	"context"
	"encoding/json"
	"testing"
)

func newTestRouter() *Router {
	reg := NewRegistry()
	def, handler := echoTool()
	reg.MustRegister(def, handler)
	return NewRouter(reg)
}

func TestDispatch_SimplifiedCall(t *testing.T) {
	rt := newTestRouter()
	raw := json.RawMessage(`{"toolName":"echo","arguments":{"message":"hi"}}`)
	out, err := rt.Dispatch(context.Background(), raw)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestDispatch_ReservedToolsList(t *testing.T) {
	rt := newTestRouter()
	raw := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	out, err := rt.Dispatch(context.Background(), raw)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var resp Response
	_ = json.Unmarshal(out, &resp)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestDispatch_UnknownMethod(t *testing.T) {
	rt := newTestRouter()
	raw := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"nope"}`)
	out, _ := rt.Dispatch(context.Background(), raw)
	var resp Response
	_ = json.Unmarshal(out, &resp)
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", resp.Error)
	}
}

func TestDispatch_MissingIdIsInvalidRequest(t *testing.T) {
	rt := newTestRouter()
	raw := json.RawMessage(`{"jsonrpc":"2.0","method":"tools/list"}`)
	out, _ := rt.Dispatch(context.Background(), raw)
	var resp Response
	_ = json.Unmarshal(out, &resp)
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", resp.Error)
	}
}

func TestDispatch_NotificationProducesNoResponse(t *testing.T) {
	rt := newTestRouter()
	raw := json.RawMessage(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	out, err := rt.Dispatch(context.Background(), raw)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil response for notification, got %s", out)
	}
}

func TestDispatch_Batch(t *testing.T) {
	rt := newTestRouter()
	raw := json.RawMessage(`[
		{"jsonrpc":"2.0","id":1,"method":"tools/list"},
		{"jsonrpc":"2.0","id":2,"method":"nope"}
	]`)
	out, err := rt.Dispatch(context.Background(), raw)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var resps []Response
	if err := json.Unmarshal(out, &resps); err != nil {
		t.Fatalf("unmarshal batch: %v", err)
	}
	if len(resps) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(resps))
	}
}

func TestDispatch_ToolsCall(t *testing.T) {
	rt := newTestRouter()
	raw := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"toolName":"echo","arguments":{"message":"hi"}}}`)
	out, err := rt.Dispatch(context.Background(), raw)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var resp Response
	_ = json.Unmarshal(out, &resp)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}
