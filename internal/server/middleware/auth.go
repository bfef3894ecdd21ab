package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Paths that stay reachable without credentials: probes, scrapers, and the
// websocket endpoint (browsers cannot attach headers to the upgrade request).
var authExempt = map[string]bool{
	"/health":  true,
	"/metrics": true,
	"/ws":      true,
}

// Auth returns middleware that validates requests against a static API key,
// supplied either as "Authorization: Bearer <key>" or in the X-API-Key
// header. An empty apiKey disables authentication entirely.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || authExempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			presented := requestKey(r)
			if presented == "" {
				writeUnauthorized(w, "missing api key")
				return
			}
			// Constant-time comparison to prevent timing attacks.
			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				writeUnauthorized(w, "invalid api key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requestKey extracts the presented credential from the request headers.
func requestKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, rest, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
