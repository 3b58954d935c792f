package rpc

import (
	"context"
	"encoding/json"
)

// ProtocolVersion is returned by the initialize reserved method.
const ProtocolVersion = "2024-11-05"

// Router dispatches single or batch JSON-RPC payloads against a Registry.
type Router struct {
	registry *Registry
}

// NewRouter builds a Router over registry.
func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// Dispatch parses raw as either a single request object or a batch array
// and returns the marshaled response body, or nil if every request in the
// batch was a notification (no response expected).
func (rt *Router) Dispatch(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	trimmed := trimLeadingSpace(raw)
	if len(trimmed) == 0 {
		return marshalResponse(newError(nil, CodeParseError, "Parse error"))
	}

	if trimmed[0] == '[' {
		var reqs []json.RawMessage
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			return marshalResponse(newError(nil, CodeParseError, "Parse error"))
		}
		if len(reqs) == 0 {
			return marshalResponse(newError(nil, CodeInvalidRequest, "Invalid Request"))
		}

		var responses []*Response
		for _, one := range reqs {
			resp := rt.dispatchOne(ctx, one)
			if resp != nil {
				responses = append(responses, resp)
			}
		}
		if len(responses) == 0 {
			return nil, nil
		}
		return json.Marshal(responses)
	}

	resp := rt.dispatchOne(ctx, trimmed)
	if resp == nil {
		return nil, nil
	}
	return marshalResponse(resp)
}

func (rt *Router) dispatchOne(ctx context.Context, raw json.RawMessage) *Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return newError(nil, CodeParseError, "Parse error")
	}

	if req.IsSimplifiedCall() {
		return rt.callTool(ctx, nil, CallRequest{Name: req.ToolName, Arguments: req.Arguments})
	}

	if req.JSONRPC != "2.0" || req.Method == "" {
		return newError(req.ID, CodeInvalidRequest, "Invalid Request")
	}

	if req.IsNotification() {
		return nil
	}
	if req.ID == nil {
		return newError(nil, CodeInvalidRequest, "Invalid Request")
	}

	switch req.Method {
	case "initialize":
		return newResult(req.ID, initializeResult())
	case "tools/list":
		return newResult(req.ID, map[string]any{"tools": rt.registry.List()})
	case "tools/call":
		var call CallRequest
		if err := json.Unmarshal(req.Params, &call); err != nil {
			return newError(req.ID, CodeInvalidParams, "Invalid params")
		}
		return rt.callTool(ctx, req.ID, call)
	default:
		if _, ok := rt.registry.Get(req.Method); ok {
			return rt.callTool(ctx, req.ID, CallRequest{Name: req.Method, Arguments: req.Params})
		}
		return newError(req.ID, CodeMethodNotFound, "Method not found")
	}
}

func (rt *Router) callTool(ctx context.Context, id any, call CallRequest) *Response {
	result, rpcErr := rt.registry.Call(ctx, call)
	if rpcErr != nil {
		return &Response{JSONRPC: "2.0", ID: id, Error: rpcErr}
	}
	return newResult(id, result)
}

func initializeResult() map[string]any {
	return map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
	}
}

func trimLeadingSpace(raw json.RawMessage) json.RawMessage {
	i := 0
	for i < len(raw) {
		switch raw[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return raw[i:]
		}
	}
	return raw[i:]
}

func marshalResponse(resp *Response) (json.RawMessage, error) {
	b, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return b, nil
}
