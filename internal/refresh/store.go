// Package refresh implements the single-active-rotation-id session store
// used to detect refresh-token replay.
package refresh

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Reason enumerates ValidatePresentedToken outcomes.
type Reason string

const (
	ReasonOK              Reason = ""
	ReasonMissingSession   Reason = "missing_session"
	ReasonSeeded           Reason = "seeded"
	ReasonTokenReplayed    Reason = "token_replayed"
)

// Result is returned by ValidatePresentedToken.
type Result struct {
	OK     bool
	Reason Reason
}

type sessionState struct {
	activeRotationID string
	expiresAt        time.Time
}

// Store is the single process-wide refresh-session tracker. Mutations for
// the same sessionId are serialized by a per-store mutex; replay detection
// is exact.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New creates an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]*sessionState)}
}

// sweep removes sessions whose expiry has passed. Caller must hold mu.
func (s *Store) sweep(now time.Time) {
	for id, st := range s.sessions {
		if !st.expiresAt.IsZero() && !st.expiresAt.After(now) {
			delete(s.sessions, id)
		}
	}
}

// ValidatePresentedToken checks a presented (sessionId, rotationId, exp)
// triple against the active rotation for that session.
//
//   - missing sessionId: accepted (legacy token), reason=missing_session.
//   - unknown session: accepted and seeded with the presented rotationId
//     (no active rotation recorded when it is missing), reason=seeded.
//   - session exists, rotationId missing: rejected, reason=token_replayed,
//     so a token without a rotationId is accepted only once per session.
//   - session exists, rotationId differs from active: rejected,
//     reason=token_replayed. Caller MUST reject and SHOULD invalidate.
//   - otherwise: accepted.
func (s *Store) ValidatePresentedToken(sessionID, rotationID string, expiresAt time.Time) Result {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(now)

	if sessionID == "" {
		return Result{OK: true, Reason: ReasonMissingSession}
	}

	st, exists := s.sessions[sessionID]
	if !exists {
		s.sessions[sessionID] = &sessionState{activeRotationID: rotationID, expiresAt: expiresAt}
		return Result{OK: true, Reason: ReasonSeeded}
	}

	if rotationID == "" {
		return Result{OK: false, Reason: ReasonTokenReplayed}
	}

	if st.activeRotationID != rotationID {
		return Result{OK: false, Reason: ReasonTokenReplayed}
	}

	return Result{OK: true}
}

// Rotate installs nextRotationID (generating one if empty) as the active
// rotation for sessionID and returns it.
func (s *Store) Rotate(sessionID string, expiresAt time.Time, nextRotationID string) string {
	if nextRotationID == "" {
		nextRotationID = s.GenerateRotationID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionID] = &sessionState{activeRotationID: nextRotationID, expiresAt: expiresAt}
	return nextRotationID
}

// Invalidate drops a session entirely — used when a replay is detected and
// policy dictates the session should no longer be trusted.
func (s *Store) Invalidate(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// GenerateRotationID mints a fresh opaque rotation identifier.
func (s *Store) GenerateRotationID() string {
	return uuid.NewString()
}
