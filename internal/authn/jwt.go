package authn

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Claims carries the fields the resolver extracts from a verified token, per
// the AuthContext data model in spec §3.
type Claims struct {
	Subject   string
	Role      string
	Scopes    map[string]struct{}
	Issuer    string
	Audience  string
	ExpiresAt int64
	SessionID  string
	TokenType  string
	RotationID string
}

// jwksCache fetches and caches RS256 public keys from an upstream JWKS
// endpoint, adapted from the teacher's internal/auth/jwt.go jwksCache.
type jwksCache struct {
	mu         sync.RWMutex
	keys       map[string]*rsa.PublicKey
	lastFetch  time.Time
	cacheTTL   time.Duration
	jwksURL    string
	httpClient *http.Client
}

func newJWKSCache(url string) *jwksCache {
	return &jwksCache{
		keys:       make(map[string]*rsa.PublicKey),
		cacheTTL:   10 * time.Minute,
		jwksURL:    url,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

type jwksResponse struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (c *jwksCache) fetchJWKS(forceRefresh bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !forceRefresh && time.Since(c.lastFetch) < c.cacheTTL && len(c.keys) > 0 {
		return nil
	}

	resp, err := c.httpClient.Get(c.jwksURL)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read jwks response: %w", err)
	}

	var jwks jwksResponse
	if err := json.Unmarshal(body, &jwks); err != nil {
		return fmt.Errorf("parse jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" || key.Use != "sig" {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(key.N)
		if err != nil {
			log.Warn().Err(err).Str("kid", key.Kid).Msg("jwks: failed to decode modulus")
			continue
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(key.E)
		if err != nil {
			log.Warn().Err(err).Str("kid", key.Kid).Msg("jwks: failed to decode exponent")
			continue
		}
		var eInt int
		for _, b := range eBytes {
			eInt = eInt<<8 | int(b)
		}
		keys[key.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: eInt}
	}

	if len(keys) == 0 {
		return errors.New("no valid RSA signing keys found in jwks")
	}

	c.keys = keys
	c.lastFetch = time.Now()
	return nil
}

func (c *jwksCache) getPublicKey(kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	expired := time.Since(c.lastFetch) >= c.cacheTTL
	c.mu.RUnlock()

	if expired {
		if err := c.fetchJWKS(false); err != nil {
			log.Warn().Err(err).Msg("jwks: refresh failed, using stale cache")
		}
	}

	c.mu.RLock()
	key, ok := c.keys[kid]
	c.mu.RUnlock()
	if ok {
		return key, nil
	}

	if err := c.fetchJWKS(true); err != nil {
		return nil, fmt.Errorf("fetch jwks for missing kid %s: %w", kid, err)
	}
	c.mu.RLock()
	key, ok = c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("kid %s not found in jwks", kid)
	}
	return key, nil
}

// verifyError distinguishes an expired token from any other verification
// failure, so the resolver can map to TOKEN_EXPIRED vs INVALID_TOKEN.
type verifyError struct {
	expired bool
	err     error
}

func (e *verifyError) Error() string { return e.err.Error() }
func (e *verifyError) Unwrap() error { return e.err }

// VerifyToken verifies tokenString with the Verifier's configured secret
// and/or JWKS cache, supporting HS256 and RS256 per spec §4.E.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, &verifyError{err: errors.New("token is empty")}
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA:
			if v.jwks == nil {
				return nil, errors.New("jwks not configured")
			}
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid in token header")
			}
			return v.jwks.getPublicKey(kid)
		case *jwt.SigningMethodHMAC:
			if v.secret == "" {
				return nil, errors.New("hs256 secret not configured")
			}
			return []byte(v.secret), nil
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
	})

	if err != nil {
		expired := errors.Is(err, jwt.ErrTokenExpired)
		return nil, &verifyError{expired: expired, err: err}
	}
	if !token.Valid {
		return nil, &verifyError{err: errors.New("token invalid")}
	}

	out := &Claims{}
	if sub, ok := claims["sub"].(string); ok {
		out.Subject = sub
	}
	for _, alt := range []string{"userId", "id", "login", "username"} {
		if out.Subject != "" {
			break
		}
		if s, ok := claims[alt].(string); ok {
			out.Subject = s
		}
	}
	if role, ok := claims["role"].(string); ok {
		out.Role = role
	}
	for _, key := range []string{"scopes", "scope", "permissions"} {
		if raw, ok := claims[key]; ok {
			out.Scopes = ScopesFromAny(raw)
			break
		}
	}
	if out.Scopes == nil {
		out.Scopes = map[string]struct{}{}
	}
	if iss, ok := claims["iss"].(string); ok {
		out.Issuer = iss
	}
	if aud, ok := claims["aud"].(string); ok {
		out.Audience = aud
	}
	if exp, ok := claims["exp"].(float64); ok {
		out.ExpiresAt = int64(exp)
	}
	if sid, ok := claims["sessionId"].(string); ok {
		out.SessionID = sid
	}
	if tt, ok := claims["type"].(string); ok {
		out.TokenType = tt
	}
	if rid, ok := claims["rotationId"].(string); ok {
		out.RotationID = rid
	}
	return out, nil
}

// IsExpired reports whether err came from an expired-signature verification.
func IsExpired(err error) bool {
	var ve *verifyError
	return errors.As(err, &ve) && ve.expired
}

// Verifier validates and mints HS256 tokens; RS256 verification is used only
// for inbound tokens issued by an upstream identity provider.
type Verifier struct {
	secret string
	jwks   *jwksCache
}

// NewVerifier builds a Verifier. jwksURL may be empty to disable RS256.
func NewVerifier(hs256Secret, jwksURL string) *Verifier {
	v := &Verifier{secret: hs256Secret}
	if jwksURL != "" {
		v.jwks = newJWKSCache(jwksURL)
	}
	return v
}

// HasSecret reports whether HS256 minting/verification is configured.
func (v *Verifier) HasSecret() bool { return v.secret != "" }

// MintClaims describes the fields minted into a new access or refresh token.
type MintClaims struct {
	Subject    string
	Role       string
	Scopes     []string
	SessionID  string
	RotationID string
	TokenType  string // "access" or "refresh"
	TTL        time.Duration
}

// Mint signs a new HS256 token for the given claims.
func (v *Verifier) Mint(mc MintClaims) (string, int64, error) {
	if v.secret == "" {
		return "", 0, errors.New("hs256 secret not configured")
	}
	now := time.Now()
	exp := now.Add(mc.TTL)
	claims := jwt.MapClaims{
		"sub":       mc.Subject,
		"role":      mc.Role,
		"scopes":    mc.Scopes,
		"sessionId": mc.SessionID,
		"type":      mc.TokenType,
		"iat":       now.Unix(),
		"exp":       exp.Unix(),
		"iss":       "sigmachad-gatewaycore",
		"jti":       uuid.NewString(),
	}
	if mc.RotationID != "" {
		claims["rotationId"] = mc.RotationID
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(v.secret))
	if err != nil {
		return "", 0, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp.Unix(), nil
}
