package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/basket/nudge/internal/audit"
)

// AuthMiddleware validates the admin token on every API request. An empty
// token disables authentication, which is the expected mode for a daemon
// bound to localhost.
type AuthMiddleware struct {
	token   string
	enabled bool
}

// NewAuthMiddleware creates an auth middleware for the given admin token.
func NewAuthMiddleware(token string) *AuthMiddleware {
	return &AuthMiddleware{token: token, enabled: token != ""}
}

// Wrap wraps an http.Handler with admin token checking.
func (am *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	if !am.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health stays open for probes.
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		candidate := ExtractToken(r)
		if candidate == "" {
			audit.Record("deny", "api.auth", "missing admin token", r.URL.Path)
			http.Error(w, `{"error":"missing admin token"}`, http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(am.token)) != 1 {
			audit.Record("deny", "api.auth", "invalid admin token", r.URL.Path)
			http.Error(w, `{"error":"invalid admin token"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ExtractToken extracts the admin token from a request. It checks, in
// order: Authorization: Bearer <token>, X-API-Key header, api_key query
// param.
func ExtractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}
