package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type toolEntry struct {
	def     ToolDefinition
	handler Handler
}

// Registry manages tool definitions and dispatches tool calls, adapted from
// the teacher's tools.Registry.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*toolEntry
	ordering []string

	metrics *MetricsStore
}

// NewRegistry returns an empty Registry backed by a fresh MetricsStore.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]*toolEntry),
		metrics: NewMetricsStore(),
	}
}

// Metrics exposes the registry's execution metrics store.
func (r *Registry) Metrics() *MetricsStore { return r.metrics }

// Register adds a tool definition and handler.
func (r *Registry) Register(def ToolDefinition, handler Handler) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}
	r.tools[def.Name] = &toolEntry{def: def, handler: handler}
	r.ordering = append(r.ordering, def.Name)
	return nil
}

// MustRegister registers a tool or panics, for init-time registration.
func (r *Registry) MustRegister(def ToolDefinition, handler Handler) {
	if err := r.Register(def, handler); err != nil {
		panic(err)
	}
}

// List returns tool descriptors in registration order.
func (r *Registry) List() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(r.ordering))
	for _, name := range r.ordering {
		e := r.tools[name]
		out = append(out, ToolDescriptor{Name: e.def.Name, Description: e.def.Description, InputSchema: e.def.InputSchema})
	}
	return out
}

// Get retrieves a tool definition by name.
func (r *Registry) Get(name string) (*ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return &e.def, true
}

// Call validates req.Arguments against the tool's inputSchema, executes the
// handler, records the execution metric, and wraps the result in MCP
// content format.
func (r *Registry) Call(ctx context.Context, req CallRequest) (*CallResult, *RPCError) {
	r.mu.RLock()
	entry, exists := r.tools[req.Name]
	r.mu.RUnlock()

	if !exists {
		return nil, &RPCError{Code: CodeMethodNotFound, Message: "Method not found"}
	}

	if err := ValidateParams(entry.def.InputSchema, req.Arguments); err != nil {
		r.metrics.Record(req.Name, 0, false, err.Error())
		return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}

	start := time.Now()
	result, err := entry.handler(ctx, req.Arguments)
	duration := time.Since(start)

	if err != nil {
		r.metrics.Record(req.Name, duration, false, err.Error())
		return nil, &RPCError{Code: CodeInternalError, Message: err.Error()}
	}
	r.metrics.Record(req.Name, duration, true, "")

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, &RPCError{Code: CodeInternalError, Message: "failed to serialize tool result: " + err.Error()}
	}

	return &CallResult{Content: []ContentBlock{{Type: "text", Text: string(resultJSON)}}}, nil
}
