// Package authz combines an authn.AuthContext with a scopes.Requirement to
// grant or deny a request, emitting the audit record and response headers
// spec §4.F describes.
package authz

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Amicidal/sigmachad-gatewaycore/internal/authn"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/scopes"
)

// RefreshPath is the one route exempted from the anonymous-denied rule, so
// the refresh endpoint can validate its own request body instead.
const RefreshPath = "/api/v1/auth/refresh"

// Outcome is the result of evaluating a gate decision.
type Outcome struct {
	Granted    bool
	Code       string // envelope.Code value when denied
	Message    string
	Required   []string
	ProvidedOK bool
}

// Gate evaluates AuthContext against a Requirement.
type Gate struct {
	enforced bool
}

// NewGate builds a Gate. enforced mirrors authn.Resolver.IsEnforced(): when
// false, every request is granted with a bypass audit note.
func NewGate(enforced bool) *Gate {
	return &Gate{enforced: enforced}
}

// Evaluate runs the decision tree in spec §4.F and mutates ctx.Decision.
func (g *Gate) Evaluate(ctx *authn.AuthContext, req *scopes.Requirement, path string) Outcome {
	if !g.enforced {
		ctx.Decision = authn.DecisionGranted
		g.audit(ctx, "bypass: auth not enforced")
		return Outcome{Granted: true}
	}

	if ctx.TokenError != "" {
		ctx.Decision = authn.DecisionDenied
		g.audit(ctx, "token error: "+ctx.TokenError)
		return Outcome{Granted: false, Code: ctx.TokenError, Message: ctx.TokenErrorDetail}
	}

	if req == nil {
		ctx.Decision = authn.DecisionGranted
		g.audit(ctx, "no requirement for route")
		return Outcome{Granted: true}
	}
	ctx.RequiredScopes = req.Scopes

	if path == RefreshPath {
		ctx.Decision = authn.DecisionGranted
		g.audit(ctx, "bypass: refresh endpoint validates its own token")
		return Outcome{Granted: true}
	}

	if ctx.TokenType == authn.TokenTypeAnonymous {
		ctx.Decision = authn.DecisionDenied
		g.audit(ctx, "anonymous caller, requirement present")
		return Outcome{Granted: false, Code: "UNAUTHORIZED", Message: "authentication required", Required: req.Scopes}
	}

	if scopes.ScopesSatisfyRequirement(ctx.Scopes, req) {
		ctx.Decision = authn.DecisionGranted
		g.audit(ctx, "scopes satisfied")
		return Outcome{Granted: true}
	}

	ctx.Decision = authn.DecisionDenied
	g.audit(ctx, "insufficient scopes")
	return Outcome{Granted: false, Code: "INSUFFICIENT_SCOPES", Message: "insufficient scopes", Required: req.Scopes}
}

func (g *Gate) audit(ctx *authn.AuthContext, reason string) {
	log.Info().
		Str("event", "auth.decision").
		Str("decision", string(ctx.Decision)).
		Str("tokenType", string(ctx.TokenType)).
		Str("user", ctx.User).
		Interface("scopes", ctx.ScopeList()).
		Interface("requiredScopes", ctx.RequiredScopes).
		Str("tokenError", ctx.TokenError).
		Str("reason", reason).
		Str("requestId", ctx.Audit.RequestID).
		Str("ip", ctx.Audit.IP).
		Msg("auth decision")
}

// WriteGrantHeaders sets the x-auth-* headers on a granted response.
func WriteGrantHeaders(w http.ResponseWriter, ctx *authn.AuthContext) {
	scopeList := ctx.ScopeList()
	if len(scopeList) > 0 {
		joined := ""
		for i, s := range scopeList {
			if i > 0 {
				joined += ","
			}
			joined += s
		}
		w.Header().Set("X-Auth-Scopes", joined)
	}
	if len(ctx.RequiredScopes) > 0 {
		joined := ""
		for i, s := range ctx.RequiredScopes {
			if i > 0 {
				joined += ","
			}
			joined += s
		}
		w.Header().Set("X-Auth-Required-Scopes", joined)
	}
	if ctx.User != "" {
		w.Header().Set("X-Auth-Subject", ctx.User)
	} else if ctx.APIKeyID != "" {
		w.Header().Set("X-Auth-Subject", ctx.APIKeyID)
	}
}
