package refresh

import (
	"sync"
	"testing"
	"time"
)

func TestValidatePresentedToken_MissingSessionAccepted(t *testing.T) {
	s := New()
	res := s.ValidatePresentedToken("", "", time.Time{})
	if !res.OK || res.Reason != ReasonMissingSession {
		t.Fatalf("expected missing_session acceptance, got %+v", res)
	}
}

func TestValidatePresentedToken_SeedsOnFirstSight(t *testing.T) {
	s := New()
	res := s.ValidatePresentedToken("sess-1", "rot-1", time.Now().Add(time.Hour))
	if !res.OK || res.Reason != ReasonSeeded {
		t.Fatalf("expected seeded acceptance, got %+v", res)
	}
}

func TestValidatePresentedToken_ReplayRejected(t *testing.T) {
	s := New()
	s.ValidatePresentedToken("sess-1", "rot-1", time.Now().Add(time.Hour))

	// Same rotation id again: still valid (not yet rotated away from).
	res := s.ValidatePresentedToken("sess-1", "rot-1", time.Now().Add(time.Hour))
	if !res.OK {
		t.Fatalf("expected repeat of active rotation id to be accepted, got %+v", res)
	}

	s.Rotate("sess-1", time.Now().Add(time.Hour), "rot-2")

	replay := s.ValidatePresentedToken("sess-1", "rot-1", time.Now().Add(time.Hour))
	if replay.OK || replay.Reason != ReasonTokenReplayed {
		t.Fatalf("expected token_replayed after rotation, got %+v", replay)
	}

	fresh := s.ValidatePresentedToken("sess-1", "rot-2", time.Now().Add(time.Hour))
	if !fresh.OK {
		t.Fatalf("expected new rotation id to be accepted, got %+v", fresh)
	}
}

func TestRotate_GeneratesIDWhenEmpty(t *testing.T) {
	s := New()
	id := s.Rotate("sess-1", time.Now().Add(time.Hour), "")
	if id == "" {
		t.Fatal("expected a generated rotation id")
	}
	res := s.ValidatePresentedToken("sess-1", id, time.Now().Add(time.Hour))
	if !res.OK {
		t.Fatalf("expected generated rotation id to validate, got %+v", res)
	}
}

func TestSweep_RemovesExpiredSessions(t *testing.T) {
	s := New()
	s.Rotate("sess-1", time.Now().Add(-time.Minute), "rot-1")

	// Sweeping happens on the next validate call; the expired session is
	// gone, so the next rotationId seeds fresh rather than replaying.
	res := s.ValidatePresentedToken("sess-1", "rot-2", time.Now().Add(time.Hour))
	if !res.OK || res.Reason != ReasonSeeded {
		t.Fatalf("expected expired session to be swept and reseeded, got %+v", res)
	}
}

// TestValidatePresentedToken_AtMostOneAcceptsPerRotation exercises the
// quantified property from spec §8: for a fixed sessionId, at most one
// unique rotationId should be accepted at a time; a second concurrent
// rotationId is a replay.
func TestValidatePresentedToken_AtMostOneAcceptsPerRotation(t *testing.T) {
	s := New()
	s.Rotate("sess-1", time.Now().Add(time.Hour), "rot-1")

	var wg sync.WaitGroup
	results := make([]Result, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			rot := "rot-1"
			if idx%2 == 0 {
				rot = "rot-other"
			}
			results[idx] = s.ValidatePresentedToken("sess-1", rot, time.Now().Add(time.Hour))
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if i%2 == 0 {
			if res.OK {
				t.Fatalf("index %d: expected rot-other to be rejected as replay, got %+v", i, res)
			}
		} else if !res.OK {
			t.Fatalf("index %d: expected active rotation id to be accepted, got %+v", i, res)
		}
	}
}
