package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Amicidal/sigmachad-gatewaycore/internal/rpc"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/wshub"
)

// HealthHandler implements GET /health (spec §4.L), aggregating the
// liveness of the subsystems the gateway core owns directly: the tool
// registry's derived health and whether a WebSocket hub is wired. The
// connection count is not reported.
type HealthHandler struct {
	registry  *rpc.Registry
	hub       *wshub.Hub
	startedAt time.Time
}

// NewHealthHandler wires the health endpoint to its collaborators.
func NewHealthHandler(registry *rpc.Registry, hub *wshub.Hub, startedAt time.Time) *HealthHandler {
	return &HealthHandler{registry: registry, hub: hub, startedAt: startedAt}
}

type healthMCP struct {
	Tools      int    `json:"tools"`
	Validation string `json:"validation"`
}

type healthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
	Uptime   float64           `json:"uptime"`
	MCP      healthMCP         `json:"mcp"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	toolHealth := h.registry.Metrics().DeriveHealth()

	status := "healthy"
	switch toolHealth {
	case rpc.HealthDegraded:
		status = "degraded"
	case rpc.HealthUnhealthy:
		status = "unhealthy"
	}

	services := map[string]string{
		"tools":     string(toolHealth),
		"websocket": "healthy",
	}
	if h.hub != nil {
		services["websocket"] = "healthy"
	} else {
		services["websocket"] = "disabled"
	}

	resp := healthResponse{
		Status:   status,
		Services: services,
		Uptime:   time.Since(h.startedAt).Seconds(),
		MCP: healthMCP{
			Tools:      len(h.registry.List()),
			Validation: "enabled",
		},
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}
