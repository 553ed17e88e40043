// Package middleware provides the HTTP middleware chain for the SURF server.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/nomadbarefoot/surf/internal/types"
)

// Auth returns middleware validating a static bearer token. An empty token
// disables authentication. Health and metrics endpoints are always allowed
// so load balancers and scrapers keep working.
func Auth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			presented, ok := bearerToken(r)
			if !ok {
				writeErrorResponse(w, http.StatusUnauthorized,
					types.CodeAuthentication, "Missing bearer token")
				return
			}
			// Constant-time comparison to prevent timing attacks.
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeErrorResponse(w, http.StatusUnauthorized,
					types.CodeAuthentication, "Invalid bearer token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Tokens are never read from query parameters; those leak into logs
// and referrer headers.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return h[len(prefix):], true
}
