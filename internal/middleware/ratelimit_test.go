package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A broken Redis must never take the API down: both the blocked-IP check
// and the counter fail open and the request goes through.
func TestRateLimiterFailsOpenWhenRedisUnavailable(t *testing.T) {
	unreachable := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { unreachable.Close() })
	rl := NewRateLimiter(unreachable)

	called := false
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.RemoteAddr = "192.0.2.10:52341"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.True(t, called, "request must pass through when Redis is down")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	blocked, err := rl.IsIPBlocked(req.Context(), "192.0.2.10")
	assert.Error(t, err)
	assert.False(t, blocked)
}
