package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/Amicidal/sigmachad-gatewaycore/internal/apikeys"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/authn"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/authz"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/envelope"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/ratelimit"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/refresh"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/rpc"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/scopes"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/wshub"
)

// Dependencies bundles every collaborator the router dispatches into,
// assembled by cmd/server/main.go per the package-mapping table in
// SPEC_FULL.md §4.
type Dependencies struct {
	Resolver      *authn.Resolver
	Gate          *authz.Gate
	Catalogue     *scopes.Catalogue
	Verifier      *authn.Verifier
	RefreshStore  *refresh.Store
	APIKeys       *apikeys.Registry
	RateLimit     ratelimit.Config
	Hub           *wshub.Hub
	ToolRegistry  *rpc.Registry
	ToolRouter    *rpc.Router
	CORSOrigins   []string
	StartedAt     time.Time
}

// NewRouter assembles the chi mux implementing the HTTP Dispatcher (spec
// §4.M), adapted from the teacher's chi-based httpapi.Server router
// construction generalized to the gateway's auth/rate-limit/RPC stack.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(CorrelationID)
	r.Use(Recoverer)
	r.Use(SecurityHeaders)
	r.Use(middleware.RealIP)

	corsMW := cors.New(cors.Options{
		AllowedOrigins:   deps.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "X-Api-Key", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(corsMW.Handler)
	r.Use(Sanitize)
	r.Use(ratelimit.Middleware(deps.RateLimit))

	refreshHandler := NewRefreshHandler(deps.Verifier, deps.RefreshStore)
	healthHandler := NewHealthHandler(deps.ToolRegistry, deps.Hub, deps.StartedAt)
	toolHTTP := rpc.NewHTTPHandlers(deps.ToolRegistry)

	authMW := Authenticate(deps.Resolver, deps.Gate, deps.Catalogue)

	r.Get("/health", healthHandler.ServeHTTP)

	r.Group(func(pr chi.Router) {
		pr.Use(authMW)
		pr.Post(authz.RefreshPath, refreshHandler.ServeHTTP)
		pr.Get("/api/v1/admin/apikeys/status", apiKeyStatusHandler(deps.APIKeys))
	})

	r.Route("/mcp", func(mr chi.Router) {
		mr.Use(authMW)
		mr.Get("/health", toolHTTP.Health)
		mr.Get("/metrics", toolHTTP.Metrics)
		mr.Get("/history", toolHTTP.History)
		mr.Get("/performance", toolHTTP.Performance)
		mr.Get("/stats", toolHTTP.Stats)
		mr.Get("/tools", toolHTTP.Tools)
		mr.Post("/tools/{name}", toolHTTP.CallTool)
		mr.Post("/", rpcDispatchHandler(deps.ToolRouter))
	})

	r.Group(func(pr chi.Router) {
		pr.Use(authMW)
		pr.Post("/api/trpc", rpcDispatchHandler(deps.ToolRouter))
		pr.Post("/api/trpc/*", rpcDispatchHandler(deps.ToolRouter))
	})

	if deps.Hub != nil {
		r.Get("/ws", deps.Hub.ServeHTTP)
	}

	return r
}

// apiKeyStatusHandler reports whether the API-Key Registry has a configured
// source, without exposing any record contents — a minimal admin
// observability surface over the registry's load state.
func apiKeyStatusHandler(registry *apikeys.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		configured := registry != nil && registry.IsConfigured()
		_ = json.NewEncoder(w).Encode(map[string]bool{"configured": configured})
	}
}

// rpcDispatchHandler adapts rpc.Router.Dispatch to an http.HandlerFunc for
// both the simplified tRPC-style POST and the JSON-RPC /mcp endpoint.
func rpcDispatchHandler(router *rpc.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := RequestID(r.Context())

		body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
		if err != nil {
			env := envelope.Failure(envelope.CodeValidation, "failed to read request body", requestID, nil)
			envelope.Write(w, envelope.CodeValidation, env, 0)
			return
		}

		out, dispatchErr := router.Dispatch(r.Context(), body)
		if dispatchErr != nil {
			env := envelope.Failure(envelope.CodeInternal, dispatchErr.Error(), requestID, nil)
			envelope.Write(w, envelope.CodeInternal, env, 0)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if out == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out)
	}
}
