package authn

import (
	"net/http"
	"strings"

	"github.com/Amicidal/sigmachad-gatewaycore/internal/apikeys"
)

// queryTokenParams lists the query-string keys the WebSocket upgrade path
// accepts as a bearer-token substitute, per spec §4.E.
var queryTokenParams = []string{"access_token", "token", "bearer_token", "api_key", "apikey", "apiKey"}

// wsUpgradePath is the only path on which query-string tokens are read.
const wsUpgradePath = "/ws"

// Config controls which credential types the Resolver accepts.
type Config struct {
	AdminAPIToken string
	JWTSecret     string
	JWKSURL       string
}

// Resolver classifies an inbound request's credential and builds an
// AuthContext, per spec §4.E.
type Resolver struct {
	cfg      Config
	verifier *Verifier
	apiKeys  *apikeys.Registry
}

// NewResolver builds a Resolver. apiKeyRegistry may be nil if no registry is
// configured.
func NewResolver(cfg Config, apiKeyRegistry *apikeys.Registry) *Resolver {
	return &Resolver{
		cfg:      cfg,
		verifier: NewVerifier(cfg.JWTSecret, cfg.JWKSURL),
		apiKeys:  apiKeyRegistry,
	}
}

// IsEnforced reports whether any credential mechanism is configured; when
// false the authorization gate grants unconditionally (spec §4.F).
func (res *Resolver) IsEnforced() bool {
	return res.cfg.JWTSecret != "" || res.cfg.AdminAPIToken != "" || (res.apiKeys != nil && res.apiKeys.IsConfigured())
}

// Resolve classifies r's credential and returns a fresh AuthContext.
func (res *Resolver) Resolve(r *http.Request, audit Audit) *AuthContext {
	authHeader := r.Header.Get("Authorization")
	apiKeyHeader := r.Header.Get("X-Api-Key")

	if authHeader == "" && apiKeyHeader == "" && r.URL.Path == wsUpgradePath {
		if wsAuth, wsKey := extractWSCredentials(r); wsAuth != "" || wsKey != "" {
			authHeader = wsAuth
			apiKeyHeader = wsKey
		}
	}

	ctx := &AuthContext{
		TokenType: TokenTypeAnonymous,
		Scopes:    map[string]struct{}{},
		Audit:     audit,
	}

	if res.matchesAdminToken(authHeader) {
		ctx.TokenType = TokenTypeAdminToken
		ctx.Scopes = AdminScopes()
		return ctx
	}

	if authHeader != "" {
		res.resolveBearer(ctx, authHeader)
		return ctx
	}

	if apiKeyHeader != "" {
		if res.cfg.AdminAPIToken != "" && apiKeyHeader == res.cfg.AdminAPIToken {
			ctx.TokenType = TokenTypeAdminToken
			ctx.Scopes = AdminScopes()
			return ctx
		}
		res.resolveAPIKey(ctx, apiKeyHeader)
		return ctx
	}

	return ctx
}

func (res *Resolver) matchesAdminToken(authHeader string) bool {
	if res.cfg.AdminAPIToken == "" || authHeader == "" {
		return false
	}
	if authHeader == res.cfg.AdminAPIToken {
		return true
	}
	if bearer, ok := strings.CutPrefix(authHeader, "Bearer "); ok && bearer == res.cfg.AdminAPIToken {
		return true
	}
	return false
}

func (res *Resolver) resolveBearer(ctx *AuthContext, authHeader string) {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		ctx.TokenError = "MISSING_BEARER"
		return
	}
	token = strings.TrimSpace(token)
	if token == "" {
		ctx.TokenError = "INVALID_TOKEN"
		ctx.TokenErrorDetail = "empty bearer token"
		return
	}
	if !res.verifier.HasSecret() && res.cfg.JWKSURL == "" {
		ctx.TokenError = "INVALID_TOKEN"
		ctx.TokenErrorDetail = "jwt secret not configured"
		return
	}

	claims, err := res.verifier.VerifyToken(token)
	if err != nil {
		if IsExpired(err) {
			ctx.TokenError = "TOKEN_EXPIRED"
		} else {
			ctx.TokenError = "INVALID_TOKEN"
		}
		ctx.TokenErrorDetail = err.Error()
		return
	}

	ctx.TokenType = TokenTypeJWT
	ctx.User = claims.Subject
	ctx.Scopes = claims.Scopes
	ctx.Issuer = claims.Issuer
	ctx.Audience = claims.Audience
	ctx.ExpiresAtUnix = claims.ExpiresAt
	ctx.SessionID = claims.SessionID
}

func (res *Resolver) resolveAPIKey(ctx *AuthContext, presented string) {
	if res.apiKeys == nil {
		ctx.TokenError = "INVALID_API_KEY"
		ctx.TokenErrorDetail = "no api key registry configured"
		return
	}
	result, err := res.apiKeys.Authenticate(presented)
	if err != nil {
		if af, ok := err.(*apikeys.AuthFailure); ok {
			ctx.TokenError = string(af.Code)
			ctx.TokenErrorDetail = af.Message
		} else {
			ctx.TokenError = "INVALID_API_KEY"
			ctx.TokenErrorDetail = err.Error()
		}
		return
	}
	ctx.TokenType = TokenTypeAPIKey
	ctx.APIKeyID = result.Record.ID
	ctx.Scopes = result.Scopes
}

// extractWSCredentials pulls bearer/api-key-equivalent tokens out of the
// query string for the WebSocket upgrade path, synthesizing pseudo-headers
// exactly as spec §4.E requires.
func extractWSCredentials(r *http.Request) (authHeader, apiKeyHeader string) {
	q := r.URL.Query()
	for _, key := range queryTokenParams {
		v := q.Get(key)
		if v == "" {
			continue
		}
		switch key {
		case "api_key", "apikey", "apiKey":
			apiKeyHeader = v
		default:
			authHeader = "Bearer " + v
		}
		if authHeader != "" || apiKeyHeader != "" {
			break
		}
	}
	return authHeader, apiKeyHeader
}
