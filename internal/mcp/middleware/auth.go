package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/btouchard/tunnelbot/internal/auth"
)

// BearerAuth returns middleware that requires "Authorization: Bearer <token>".
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				challengeAuth(w, "missing Authorization header")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				challengeAuth(w, "invalid Authorization header format")
				return
			}

			if !auth.TokenMatches(token, parts[1]) {
				slog.Debug("mcp token rejected", "remote_addr", r.RemoteAddr)
				invalidToken(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// challengeAuth sends a 401 with a Bearer challenge for unauthenticated requests.
func challengeAuth(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="tunnelbot"`)
	http.Error(w, msg, http.StatusUnauthorized)
}

// invalidToken sends a 401 for requests with a wrong Bearer token.
func invalidToken(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	http.Error(w, msg, http.StatusUnauthorized)
}
