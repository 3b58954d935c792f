package httpapi

import (
	"net/http"
	"strconv"
	"strings"
)

// Sanitize strips NUL bytes and other non-printable control characters,
// raw or percent-encoded, from the query string before any downstream
// middleware sees the request, per the ingress step in spec §2 ("sanitize
// body/query/params"); the path is not touched.
// Grounded on the upload package's input-sanitizer style in the pack
// (validators.go strips/validates raw strings before they reach business
// logic); request bodies are left to each handler's own JSON decoder, which
// rejects raw control bytes inside JSON strings during unmarshal.
func Sanitize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.URL.RawQuery; raw != "" {
			if cleaned := stripControlChars(raw); cleaned != raw {
				r.URL.RawQuery = cleaned
			}
		}
		next.ServeHTTP(w, r)
	})
}

// stripControlChars removes NUL and other C0 control bytes (except the tab
// used as a query-string separator in some clients), whether raw or
// percent-encoded (%00-%1F), leaving printable content untouched.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil && isControlByte(rune(v)) {
				i += 2
				continue
			}
		}
		if isControlByte(rune(s[i])) {
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isControlByte(r rune) bool {
	return r < 0x20 && r != '\t'
}
