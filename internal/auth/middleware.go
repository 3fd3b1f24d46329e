// Package auth guards the local API with a shared bearer token.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenFromRequest returns the token from X-API-Key or a Bearer Authorization header
func TokenFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// Middleware returns an HTTP middleware that requires the given token.
func Middleware(token string, writeError func(w http.ResponseWriter, status int, code, message string)) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := TokenFromRequest(r)
			if got == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "API token required")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
