// Package apikeys implements the opaque API-key credential subsystem: a
// registry of (id, secretHash) records loaded from a provider function, a
// file, or a raw JSON source, cached by a source signature and
// automatically invalidated when that signature changes.
package apikeys

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Algorithm identifies the hash function used for a record's secretHash.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// Record is a single API-key registry entry.
type Record struct {
	ID            string    `json:"id"`
	SecretHash    string    `json:"secretHash"`
	Algorithm     Algorithm `json:"algorithm"`
	Scopes        []string  `json:"scopes"`
	LastRotatedAt string    `json:"lastRotatedAt,omitempty"`
	Checksum      string    `json:"checksum,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// FailureCode enumerates authenticate() failure reasons.
type FailureCode string

const (
	FailInvalidKey        FailureCode = "INVALID_API_KEY"
	FailChecksumMismatch  FailureCode = "CHECKSUM_MISMATCH"
)

// AuthFailure is returned by Authenticate on any rejection.
type AuthFailure struct {
	Code    FailureCode
	Message string
}

func (f *AuthFailure) Error() string { return fmt.Sprintf("%s: %s", f.Code, f.Message) }

// AuthResult carries the outcome of a successful Authenticate call.
type AuthResult struct {
	Record *Record
	Scopes map[string]struct{}
}

// ProviderFunc returns the raw registry source (JSON document or array) on
// demand. Used as the highest-priority load source.
type ProviderFunc func() (string, error)

type documentEnvelope struct {
	Keys []Record `json:"keys"`
}

// Registry is the process-wide, read-mostly cache of API-key records.
type Registry struct {
	mu sync.RWMutex

	provider ProviderFunc
	filePath string
	rawSrc   string

	signature string
	records   map[string]Record
}

// New creates an unconfigured Registry. Call SetProvider, or configure a
// file path / raw source via NewFromFile / NewFromString, before use.
func New() *Registry {
	return &Registry{}
}

// NewFromFile configures the registry to load from a file path.
func NewFromFile(path string) *Registry {
	return &Registry{filePath: path}
}

// NewFromString configures the registry to load from an inline JSON source.
func NewFromString(src string) *Registry {
	return &Registry{rawSrc: src}
}

// SetProvider installs (or clears, with nil) a provider function. The
// provider takes precedence over file and raw-string sources.
func (r *Registry) SetProvider(fn ProviderFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provider = fn
	r.signature = ""
	r.records = nil
}

// ClearCache forces the next Authenticate call to reload the source.
func (r *Registry) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signature = ""
	r.records = nil
}

// IsConfigured reports whether any load source is available.
func (r *Registry) IsConfigured() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.provider != nil || r.filePath != "" || r.rawSrc != ""
}

// sourceSignature combines the load source's identity with a value that
// changes when its content does, so cache invalidation is automatic.
func (r *Registry) sourceSignature() (string, string, error) {
	switch {
	case r.provider != nil:
		src, err := r.provider()
		if err != nil {
			return "", "", fmt.Errorf("api key provider: %w", err)
		}
		sum := sha256.Sum256([]byte(src))
		return "provider:" + base64.RawURLEncoding.EncodeToString(sum[:8]), src, nil

	case r.filePath != "":
		info, err := os.Stat(r.filePath)
		if err != nil {
			return "", "", fmt.Errorf("stat api key registry file: %w", err)
		}
		sig := fmt.Sprintf("file:%s:%d:%d", r.filePath, info.ModTime().UnixNano(), info.Size())
		data, err := os.ReadFile(r.filePath)
		if err != nil {
			return "", "", fmt.Errorf("read api key registry file: %w", err)
		}
		return sig, string(data), nil

	case r.rawSrc != "":
		sum := sha256.Sum256([]byte(r.rawSrc))
		return "raw:" + base64.RawURLEncoding.EncodeToString(sum[:8]), r.rawSrc, nil

	default:
		return "", "", errors.New("api key registry has no configured source")
	}
}

// ensureLoaded re-reads the source only if its signature has changed since
// the last load. Caller must hold no lock; this takes the write lock itself.
func (r *Registry) ensureLoaded() error {
	r.mu.RLock()
	provider, filePath, rawSrc := r.provider, r.filePath, r.rawSrc
	r.mu.RUnlock()
	if provider == nil && filePath == "" && rawSrc == "" {
		return errors.New("api key registry has no configured source")
	}

	sig, src, err := r.sourceSignature()
	if err != nil {
		return err
	}

	r.mu.RLock()
	current := r.signature
	r.mu.RUnlock()
	if current == sig {
		return nil
	}

	records, err := parseSource(src)
	if err != nil {
		return fmt.Errorf("parse api key registry: %w", err)
	}

	byID := make(map[string]Record, len(records))
	for _, rec := range records {
		if rec.ID == "" || rec.SecretHash == "" {
			continue
		}
		byID[rec.ID] = rec
	}

	r.mu.Lock()
	r.signature = sig
	r.records = byID
	r.mu.Unlock()

	log.Info().Int("count", len(byID)).Msg("api key registry reloaded")
	return nil
}

// parseSource accepts either {"keys":[...]} or a bare JSON array.
func parseSource(src string) ([]Record, error) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var records []Record
		if err := json.Unmarshal([]byte(trimmed), &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var doc documentEnvelope
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return nil, err
	}
	return doc.Keys, nil
}

// Authenticate verifies a base64-encoded "id:secret" presented value against
// the registry.
func (r *Registry) Authenticate(headerValue string) (*AuthResult, error) {
	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}

	id, secret, ok := decodePresented(headerValue)
	if !ok {
		return nil, &AuthFailure{Code: FailInvalidKey, Message: "malformed api key"}
	}

	r.mu.RLock()
	rec, exists := r.records[id]
	r.mu.RUnlock()
	if !exists {
		return nil, &AuthFailure{Code: FailInvalidKey, Message: "unknown api key id"}
	}

	if rec.Checksum != "" {
		want := computeChecksum(rec.ID, rec.SecretHash, rec.Algorithm)
		if !hmac.Equal([]byte(want), []byte(rec.Checksum)) {
			return nil, &AuthFailure{Code: FailChecksumMismatch, Message: "registry integrity check failed"}
		}
	}

	if !verifySecret(secret, rec.SecretHash, rec.Algorithm) {
		return nil, &AuthFailure{Code: FailInvalidKey, Message: "secret mismatch"}
	}

	scopeSet := make(map[string]struct{}, len(rec.Scopes))
	for _, s := range rec.Scopes {
		scopeSet[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}

	recCopy := rec
	return &AuthResult{Record: &recCopy, Scopes: scopeSet}, nil
}

func decodePresented(value string) (id, secret string, ok bool) {
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		decoded, err = base64.URLEncoding.DecodeString(value)
		if err != nil {
			return "", "", false
		}
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func hashSecret(secret string, algo Algorithm) []byte {
	switch algo {
	case SHA512:
		sum := sha512.Sum512([]byte(secret))
		return sum[:]
	default:
		sum := sha256.Sum256([]byte(secret))
		return sum[:]
	}
}

func verifySecret(secret, wantHex string, algo Algorithm) bool {
	got := fmt.Sprintf("%x", hashSecret(secret, algo))
	return hmac.Equal([]byte(got), []byte(wantHex))
}

// ComputeChecksum is exported so callers constructing Records (tests,
// registry authoring tools) can compute a valid checksum.
func ComputeChecksum(id, secretHash string, algo Algorithm) string {
	return computeChecksum(id, secretHash, algo)
}

func computeChecksum(id, secretHash string, algo Algorithm) string {
	sum := sha256.Sum256([]byte(id + ":" + secretHash + ":" + string(algo)))
	return fmt.Sprintf("%x", sum)
}

// HashSecret is exported for registry-authoring tooling and tests.
func HashSecret(secret string, algo Algorithm) string {
	return fmt.Sprintf("%x", hashSecret(secret, algo))
}

// EncodePresented builds the base64 "id:secret" value a client presents in
// X-Api-Key.
func EncodePresented(id, secret string) string {
	return base64.StdEncoding.EncodeToString([]byte(id + ":" + secret))
}
