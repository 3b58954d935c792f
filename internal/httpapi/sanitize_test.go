package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSanitize_StripsControlBytesFromQuery(t *testing.T) {
	var gotQuery string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/graph/search?q=foo%00bar", nil)
	rec := httptest.NewRecorder()
	Sanitize(next).ServeHTTP(rec, req)

	if gotQuery != "q=foobar" {
		t.Fatalf("expected NUL byte stripped, got %q", gotQuery)
	}
}

func TestSanitize_LeavesCleanQueryUntouched(t *testing.T) {
	var gotQuery string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/graph/search?q=hello&limit=10", nil)
	rec := httptest.NewRecorder()
	Sanitize(next).ServeHTTP(rec, req)

	if gotQuery != "q=hello&limit=10" {
		t.Fatalf("expected query unchanged, got %q", gotQuery)
	}
}

func TestSecurityHeaders_SetOnEveryResponse(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	SecurityHeaders(next).ServeHTTP(rec, req)

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected nosniff header on success response")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY on success response")
	}
	if rec.Header().Get("X-XSS-Protection") == "" {
		t.Fatalf("expected X-XSS-Protection header on success response")
	}
}
