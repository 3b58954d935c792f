package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/Amicidal/sigmachad-gatewaycore/internal/envelope"
)

// Middleware returns an HTTP middleware enforcing cfg on the composite
// (ip, user-agent, method, url) key. Key derivation is memoized per request
// via a context-free read of the request itself, matching spec §4.D.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	limiter := New(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := KeyFromRequest(r)
			decision := limiter.Allow(key)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				retryAfterSec := int(math.Ceil(decision.RetryAfter.Seconds()))
				if retryAfterSec < 1 {
					retryAfterSec = 1
				}
				requestID := w.Header().Get("X-Request-ID")
				env := envelope.Failure(envelope.CodeRateLimitExceeded, "rate limit exceeded", requestID, nil)
				envelope.Write(w, envelope.CodeRateLimitExceeded, env, retryAfterSec)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// KeyFromRequest derives the composite rate-limit key from an inbound
// request: client IP (RemoteAddr, honoring X-Forwarded-For), User-Agent,
// method, and path (query stripped).
func KeyFromRequest(r *http.Request) Key {
	ip := clientIP(r)
	return Key{
		IP:        ip,
		UserAgent: r.Header.Get("User-Agent"),
		Method:    r.Method,
		URL:       r.URL.Path,
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
