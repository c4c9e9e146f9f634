package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const principalIDKey contextKey = "principal_id"

// SessionValidator resolves a bearer token to a principal id.
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (string, bool, error)
}

// PrincipalID returns the authenticated principal id stored by
// RequireSession, or "" when the request is unauthenticated.
func PrincipalID(ctx context.Context) string {
	id, _ := ctx.Value(principalIDKey).(string)
	return id
}

// BearerToken pulls the token out of the Authorization header, falling back
// to the `token` query parameter for browser WebSocket clients that cannot
// set headers.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// RequireSession rejects requests without a valid session and stores the
// principal id in the request context for handlers downstream.
func RequireSession(sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				http.Error(w, "missing session token", http.StatusUnauthorized)
				return
			}

			principalID, ok, err := sessions.ValidateSession(r.Context(), token)
			if err != nil {
				http.Error(w, "session lookup failed", http.StatusInternalServerError)
				return
			}
			if !ok {
				http.Error(w, "invalid session token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalIDKey, principalID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
