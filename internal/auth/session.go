package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionDuration is how long a session lives without re-login.
	SessionDuration = 7 * 24 * time.Hour

	sessionKeyPrefix   = "session:"
	principalKeyPrefix = "principal_session:"
)

// SessionStore keeps bearer-token sessions in Redis: token -> principal id,
// plus a reverse principal -> token mapping so all of a principal's
// sessions can be revoked at once.
type SessionStore struct {
	client *redis.Client
}

// NewSessionStore wraps an already-connected Redis client.
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

// Create issues a fresh session token for the principal, replacing any
// existing session so the expiry clock restarts at login.
func (s *SessionStore) Create(ctx context.Context, principalID string) (string, error) {
	if err := s.InvalidatePrincipal(ctx, principalID); err != nil {
		return "", err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := base64.URLEncoding.EncodeToString(raw)

	if err := s.client.Set(ctx, sessionKeyPrefix+token, principalID, SessionDuration).Err(); err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, principalKeyPrefix+principalID, token, SessionDuration).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Validate resolves a token to its principal id. A missing or expired token
// is (_, false, nil), not an error.
func (s *SessionStore) Validate(ctx context.Context, token string) (string, bool, error) {
	if token == "" {
		return "", false, nil
	}
	principalID, err := s.client.Get(ctx, sessionKeyPrefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return principalID, true, nil
}

// Invalidate removes a single session.
func (s *SessionStore) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	principalID, err := s.client.Get(ctx, sessionKeyPrefix+token).Result()
	if err == nil && principalID != "" {
		s.client.Del(ctx, principalKeyPrefix+principalID)
	}
	return s.client.Del(ctx, sessionKeyPrefix+token).Err()
}

// InvalidatePrincipal revokes the principal's current session, if any.
func (s *SessionStore) InvalidatePrincipal(ctx context.Context, principalID string) error {
	token, err := s.client.Get(ctx, principalKeyPrefix+principalID).Result()
	if err == nil && token != "" {
		s.client.Del(ctx, sessionKeyPrefix+token)
	} else if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return s.client.Del(ctx, principalKeyPrefix+principalID).Err()
}
