package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenbook-app/greenbook-backend/internal/handlers"
	"github.com/greenbook-app/greenbook-backend/internal/middleware"
)

// rejectAllSessions fails every token, so protected routes answer 401
// without any backing store.
type rejectAllSessions struct{}

func (rejectAllSessions) ValidateSession(ctx context.Context, token string) (string, bool, error) {
	return "", false, nil
}

func newTestRouter(t *testing.T) *chi.Mux {
	t.Helper()
	r := chi.NewRouter()

	// An unreachable Redis makes the rate limiter fail open, which is all
	// the routing tests need.
	unreachable := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { unreachable.Close() })

	// chi panics if any Use call lands after the first route registration,
	// so the whole setup must go through without a panic.
	require.NotPanics(t, func() {
		SetupRoutes(r, Handlers{
			Auth:           handlers.NewAuthHandler(nil, nil, nil, "http://localhost:3000"),
			Profile:        handlers.NewProfileHandler(nil),
			Session:        handlers.NewSessionHandler(nil),
			Sessions:       rejectAllSessions{},
			Limiter:        middleware.NewRateLimiter(unreachable),
			AllowedOrigins: []string{"http://localhost:3000"},
		})
	})
	return r
}

func TestSetupRoutesServesHealth(t *testing.T) {
	r := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestProtectedRoutesRejectMissingSession(t *testing.T) {
	r := newTestRouter(t)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/auth/me", nil),
		httptest.NewRequest(http.MethodPatch, "/api/profile", nil),
		httptest.NewRequest(http.MethodDelete, "/api/profile", nil),
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", req.Method, req.URL.Path)
	}
}
