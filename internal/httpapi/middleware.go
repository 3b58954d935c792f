// Package httpapi wires the gateway core's components into the HTTP
// request lifecycle: CORS, correlation ids, rate limiting, auth resolution,
// authorization, and the uniform error envelope (spec §4.M).
package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Amicidal/sigmachad-gatewaycore/internal/envelope"
)

type ctxKey string

const requestIDKey ctxKey = "requestId"

// RequestID extracts the correlation id set by CorrelationID middleware.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// CorrelationID assigns (or propagates) X-Request-ID and attaches a
// request-scoped zerolog logger, adapted from the teacher's main.go
// logger-construction pattern (cmd/server/main.go) generalized to
// per-request scope.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		logger := log.With().Str("requestId", id).Str("method", r.Method).Str("path", r.URL.Path).Logger()
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		ctx = logger.WithContext(ctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SecurityHeaders sets the fixed security header set (spec §4.G, §6) on
// every response the gateway produces, success or failure alike, before any
// downstream handler writes its own status/body.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		envelope.WriteSecurityHeaders(w)
		next.ServeHTTP(w, r)
	})
}

// Recoverer catches panics from downstream handlers and logs them at error
// level instead of crashing the process.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				zerolog.Ctx(r.Context()).Error().Interface("panic", rec).Msg("recovered from panic")
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
