package middleware

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// APIKey returns middleware that validates a bearer API key on mutating
// requests against a bcrypt hash from configuration. Read-only requests
// (GET, HEAD, OPTIONS) always pass: the browser poller and CLI status
// queries need no credentials. When keyHash is empty, auth is disabled.
func APIKey(keyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if keyHash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}
			token := strings.TrimPrefix(auth, "Bearer ")
			if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(token)); err != nil {
				http.Error(w, `{"error":"invalid credentials"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
