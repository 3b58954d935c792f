package rpc

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// HTTPHandlers exposes the /mcp/* monitoring endpoints over a Registry.
type HTTPHandlers struct {
	registry *Registry
}

// NewHTTPHandlers builds the monitoring endpoint set for registry.
func NewHTTPHandlers(registry *Registry) *HTTPHandlers {
	return &HTTPHandlers{registry: registry}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Health handles GET /mcp/health.
func (h *HTTPHandlers) Health(w http.ResponseWriter, r *http.Request) {
	status := h.registry.Metrics().DeriveHealth()
	writeJSON(w, map[string]any{"status": status, "toolCount": len(h.registry.List())})
}

// Metrics handles GET /mcp/metrics.
func (h *HTTPHandlers) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"metrics": h.registry.Metrics().Snapshot()})
}

// History handles GET /mcp/history?limit=N.
func (h *HTTPHandlers) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	writeJSON(w, map[string]any{"history": h.registry.Metrics().History(limit)})
}

// Performance handles GET /mcp/performance: per-tool durations plus a
// remediation recommendation for any tool that looks unhealthy.
func (h *HTTPHandlers) Performance(w http.ResponseWriter, r *http.Request) {
	snap := h.registry.Metrics().Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	perTool := make([]map[string]any, 0, len(names))
	for _, name := range names {
		m := snap[name]
		entry := map[string]any{
			"toolName":             name,
			"averageExecutionTime": m.AverageExecutionTime,
			"executionCount":       m.ExecutionCount,
			"errorCount":           m.ErrorCount,
		}
		if rec := recommendation(m); rec != "" {
			entry["recommendation"] = rec
		}
		perTool = append(perTool, entry)
	}
	writeJSON(w, map[string]any{"tools": perTool})
}

func recommendation(m ExecutionMetric) string {
	if m.ExecutionCount > 5 && float64(m.ErrorCount)/float64(m.ExecutionCount) > 0.5 {
		return "high error rate: investigate recent failures"
	}
	if m.AverageExecutionTime > 10_000 {
		return "slow average execution time: consider caching or pagination"
	}
	return ""
}

// Tools handles GET /mcp/tools: the full tool descriptor list.
func (h *HTTPHandlers) Tools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"tools": h.registry.List()})
}

// CallTool handles POST /mcp/tools/:name: dispatches directly to a named
// tool, bypassing the jsonrpc/simplified envelope entirely.
func (h *HTTPHandlers) CallTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	result, rpcErr := h.registry.Call(r.Context(), CallRequest{Name: name, Arguments: body})
	if rpcErr != nil {
		status := http.StatusOK
		if rpcErr.Code == CodeMethodNotFound {
			status = http.StatusNotFound
		} else if rpcErr.Code == CodeInvalidParams {
			status = http.StatusBadRequest
		} else {
			status = http.StatusInternalServerError
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": rpcErr})
		return
	}
	writeJSON(w, result)
}

// Stats handles GET /mcp/stats: an aggregate summary across all tools.
func (h *HTTPHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	snap := h.registry.Metrics().Snapshot()
	var totalCalls, totalErrors int64
	for _, m := range snap {
		totalCalls += m.ExecutionCount
		totalErrors += m.ErrorCount
	}
	writeJSON(w, map[string]any{
		"toolCount":     len(h.registry.List()),
		"totalCalls":    totalCalls,
		"totalErrors":   totalErrors,
		"overallHealth": h.registry.Metrics().DeriveHealth(),
	})
}
