package httpapi

import (
	"context"
	"net/http"

	"github.com/Amicidal/sigmachad-gatewaycore/internal/authn"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/authz"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/envelope"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/scopes"
)

type authCtxKey string

const authContextKey authCtxKey = "authContext"

// AuthContextFrom extracts the AuthContext attached by Authenticate.
func AuthContextFrom(ctx context.Context) *authn.AuthContext {
	v, _ := ctx.Value(authContextKey).(*authn.AuthContext)
	return v
}

// Authenticate builds the per-request AuthContext and enforces the
// authorization gate for the route's resolved scope requirement, per
// spec §4.E/§4.F. Routes exempt from the catalogue (catalogue returns nil)
// are granted without a credential check beyond resolution.
func Authenticate(resolver *authn.Resolver, gate *authz.Gate, catalogue *scopes.Catalogue) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			audit := authn.Audit{
				RequestID: RequestID(r.Context()),
				IP:        clientIP(r),
				UserAgent: r.Header.Get("User-Agent"),
			}
			authCtx := resolver.Resolve(r, audit)
			requirement := catalogue.ResolveRequirement(r.Method, r.URL.Path)

			outcome := gate.Evaluate(authCtx, requirement, r.URL.Path)
			if !outcome.Granted {
				env := envelope.Failure(envelope.Code(outcome.Code), outcome.Message, audit.RequestID, &envelope.Metadata{
					RequiredScopes: outcome.Required,
					TokenType:      string(authCtx.TokenType),
				})
				envelope.Write(w, envelope.Code(outcome.Code), env, 0)
				return
			}

			authz.WriteGrantHeaders(w, authCtx)
			ctx := context.WithValue(r.Context(), authContextKey, authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
