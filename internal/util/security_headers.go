package util

import (
	"net/http"
	"strings"
)

var apiSecurityHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Referrer-Policy":         "no-referrer",
	"Permissions-Policy":      "geolocation=(), camera=(), microphone=()",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'; base-uri 'none'",
	// transcripts are private; no intermediary may cache them
	"Cache-Control": "no-store",
}

// WithSecurityHeaders adds API-safe security response headers.
// HSTS is sent only when the request arrived over HTTPS (direct or forwarded).
func WithSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for k, v := range apiSecurityHeaders {
			h.Set(k, v)
		}
		if r.TLS != nil || strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
