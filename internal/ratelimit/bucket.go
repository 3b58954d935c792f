// Package ratelimit implements the per-(ip,user-agent,method,url) token
// bucket rate limiter, adapted from the teacher's per-user token bucket
// (internal/httpapi/ratelimit.go) to the composite key the spec requires.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Config is a rate-limit preset: maxRequests over windowMs.
type Config struct {
	MaxRequests    int
	WindowMs       int64
	SkipSuccessful bool
	SkipFailed     bool
}

// Presets from spec §4.D.
var (
	SearchPreset  = Config{MaxRequests: 100, WindowMs: 60_000}
	AdminPreset   = Config{MaxRequests: 50, WindowMs: 60_000}
	DefaultPreset = Config{MaxRequests: 1000, WindowMs: 3_600_000}
	StrictPreset  = Config{MaxRequests: 10, WindowMs: 60_000}
)

// Key identifies a rate-limit bucket.
type Key struct {
	IP        string
	UserAgent string
	Method    string
	URL       string
}

func (k Key) string() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.IP, k.UserAgent, k.Method, k.URL)
}

// bucket is a single token bucket keyed by a composite request identity.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	lastRefill time.Time
}

// Decision is returned by Allow.
type Decision struct {
	Allowed    bool
	Remaining  int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter owns a set of buckets for one Config (one rate-limit tier).
type Limiter struct {
	cfg     Config
	mu      sync.RWMutex
	buckets map[string]*bucket

	stop chan struct{}
}

// New creates a Limiter for cfg and starts its idle-bucket sweeper.
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Stop halts the background sweeper. Safe to call at most once.
func (l *Limiter) Stop() {
	close(l.stop)
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweepIdle()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) sweepIdle() {
	cutoff := time.Now().Add(-time.Hour)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.buckets {
		b.mu.Lock()
		idle := b.lastRefill.Before(cutoff)
		b.mu.Unlock()
		if idle {
			delete(l.buckets, k)
		}
	}
}

func (l *Limiter) getBucket(key string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	b = &bucket{
		tokens:     float64(l.cfg.MaxRequests),
		capacity:   float64(l.cfg.MaxRequests),
		lastRefill: time.Now(),
	}
	l.buckets[key] = b
	return b
}

// Allow consumes a token for key if available, refilling first. Refill adds
// floor(elapsed/windowMs * capacity) tokens, capped at capacity.
func (l *Limiter) Allow(key Key) Decision {
	b := l.getBucket(key.string())

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsedMs := now.Sub(b.lastRefill).Milliseconds()
	if elapsedMs > 0 {
		refill := math.Floor(float64(elapsedMs) / float64(l.cfg.WindowMs) * b.capacity)
		if refill > 0 {
			b.tokens += refill
			if b.tokens > b.capacity {
				b.tokens = b.capacity
			}
			b.lastRefill = now
		}
	}

	resetAt := b.lastRefill.Add(time.Duration(l.cfg.WindowMs) * time.Millisecond)

	if b.tokens < 1 {
		retryAfter := time.Until(resetAt)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{
			Allowed:    false,
			Remaining:  0,
			Limit:      l.cfg.MaxRequests,
			ResetAt:    resetAt,
			RetryAfter: retryAfter,
		}
	}

	b.tokens--
	return Decision{
		Allowed:   true,
		Remaining: int(b.tokens),
		Limit:     l.cfg.MaxRequests,
		ResetAt:   resetAt,
	}
}
