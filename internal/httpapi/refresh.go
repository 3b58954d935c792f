package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Amicidal/sigmachad-gatewaycore/internal/authn"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/envelope"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/refresh"
)

const (
	accessTokenTTL  = time.Hour
	refreshTokenTTL = 7 * 24 * time.Hour
)

// RefreshHandler implements POST /api/v1/auth/refresh (spec §4.K): verify the
// presented refresh token, reject replays, rotate the session, and mint a
// fresh access/refresh pair.
type RefreshHandler struct {
	verifier *authn.Verifier
	store    *refresh.Store
}

// NewRefreshHandler wires the refresh endpoint to its verifier and store.
func NewRefreshHandler(verifier *authn.Verifier, store *refresh.Store) *RefreshHandler {
	return &RefreshHandler{verifier: verifier, store: store}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	TokenType    string   `json:"tokenType"`
	ExpiresIn    int64    `json:"expiresIn"`
	Scopes       []string `json:"scopes"`
}

func (h *RefreshHandler) fail(w http.ResponseWriter, r *http.Request, code envelope.Code, message string) {
	env := envelope.Failure(code, message, RequestID(r.Context()), nil)
	envelope.Write(w, code, env, 0)
}

func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	if !h.verifier.HasSecret() {
		h.fail(w, r, envelope.CodeServerMisconfigured, "token issuance is not configured")
		return
	}

	var body refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		h.fail(w, r, envelope.CodeValidation, "refreshToken is required")
		return
	}

	claims, err := h.verifier.VerifyToken(body.RefreshToken)
	if err != nil {
		if authn.IsExpired(err) {
			h.fail(w, r, envelope.CodeTokenExpired, "refresh token has expired")
			return
		}
		h.fail(w, r, envelope.CodeInvalidToken, "refresh token is invalid")
		return
	}

	if claims.TokenType != "" && claims.TokenType != "refresh" {
		h.fail(w, r, envelope.CodeInvalidToken, "token is not a refresh token")
		return
	}

	expiresAt := time.Unix(claims.ExpiresAt, 0)
	result := h.store.ValidatePresentedToken(claims.SessionID, claims.RotationID, expiresAt)
	if !result.OK {
		logger.Warn().Str("sessionId", claims.SessionID).Str("reason", string(result.Reason)).Msg("refresh token replay detected")
		h.store.Invalidate(claims.SessionID)
		h.fail(w, r, envelope.CodeTokenReplay, "refresh token has already been used")
		return
	}

	scopes := make([]string, 0, len(claims.Scopes))
	for s := range claims.Scopes {
		scopes = append(scopes, s)
	}

	sessionID := claims.SessionID
	if sessionID == "" {
		sessionID = h.store.GenerateRotationID()
	}
	nextRotationID := h.store.Rotate(sessionID, time.Now().Add(refreshTokenTTL), "")

	accessToken, accessExp, err := h.verifier.Mint(authn.MintClaims{
		Subject:   claims.Subject,
		Role:      claims.Role,
		Scopes:    scopes,
		SessionID: sessionID,
		TokenType: "access",
		TTL:       accessTokenTTL,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to mint access token")
		h.fail(w, r, envelope.CodeInternal, "failed to mint access token")
		return
	}

	newRefreshToken, _, err := h.verifier.Mint(authn.MintClaims{
		Subject:    claims.Subject,
		Role:       claims.Role,
		Scopes:     scopes,
		SessionID:  sessionID,
		RotationID: nextRotationID,
		TokenType:  "refresh",
		TTL:        refreshTokenTTL,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to mint refresh token")
		h.fail(w, r, envelope.CodeInternal, "failed to mint refresh token")
		return
	}

	resp := refreshResponse{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    accessExp - time.Now().Unix(),
		Scopes:       scopes,
	}
	env := envelope.Success(resp, RequestID(r.Context()))
	envelope.WriteSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(env)
}
