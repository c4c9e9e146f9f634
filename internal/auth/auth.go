// Package auth is the authentication provider boundary: principals with
// credentials in PostgreSQL, sessions in Redis, Google OAuth federation,
// and a subscribable principal-changed event stream. Principal ids are
// opaque to everything downstream; profiles live in the identity store
// keyed by them.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/greenbook-app/greenbook-backend/pkg/utils"
)

var (
	// ErrInvalidCredentials is returned for a bad email/password pair. The
	// caller must not reveal which half was wrong.
	ErrInvalidCredentials = errors.New("auth: invalid email or password")

	// ErrEmailTaken is returned when a principal already exists for the email.
	ErrEmailTaken = errors.New("auth: email is already registered")

	// ErrPrincipalNotFound is returned when no principal has the given id.
	ErrPrincipalNotFound = errors.New("auth: principal not found")
)

// Principal is an authenticated identity. ID is the opaque key everything
// else (profiles, the username index) hangs off; it is never user-chosen
// and never changes.
type Principal struct {
	ID        string
	Email     string
	Provider  string // "password" or "google"
	CreatedAt time.Time
}

// FederatedProfile is what an OAuth provider tells us about the user.
type FederatedProfile struct {
	Provider    string
	Subject     string // provider-scoped stable id
	Email       string
	DisplayName string
	AvatarURL   string
}

// Service manages principals and their sessions.
type Service struct {
	db       *sql.DB
	sessions *SessionStore
	events   *Broadcaster
}

// NewService wires the provider and ensures its schema exists.
func NewService(db *sql.DB, sessions *SessionStore) (*Service, error) {
	s := &Service{
		db:       db,
		sessions: sessions,
		events:   NewBroadcaster(),
	}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) ensureSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS principals (
			id UUID PRIMARY KEY,
			email VARCHAR(255) NOT NULL UNIQUE,
			password_hash VARCHAR(255),
			provider VARCHAR(50) NOT NULL DEFAULT 'password',
			provider_subject VARCHAR(255),
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE(provider, provider_subject)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_principals_email ON principals(LOWER(email))`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	log.Println("auth schema ready")
	return nil
}

// Events exposes the principal-changed stream. Each sign-in and sign-out is
// published to every subscriber.
func (s *Service) Events() *Broadcaster {
	return s.events
}

// CreatePrincipal registers an email/password principal and returns it.
// It does NOT sign the principal in; callers that want a session follow up
// with SignIn.
func (s *Service) CreatePrincipal(ctx context.Context, email, password string) (*Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.New("auth: a valid email is required")
	}
	if len(password) < 8 {
		return nil, errors.New("auth: password must be at least 8 characters")
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}

	p := &Principal{
		ID:        uuid.New().String(),
		Email:     email,
		Provider:  "password",
		CreatedAt: time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO principals (id, email, password_hash, provider, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.Email, hash, p.Provider, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	return p, nil
}

// SignIn verifies the credentials, creates a session, and publishes a
// signed-in event. Returns the principal and the session token.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Principal, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var p Principal
	var hash sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, provider, created_at
		FROM principals WHERE email = $1
	`, email).Scan(&p.ID, &p.Email, &hash, &p.Provider, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}

	// Federated principals have no password; they must use their provider.
	if !hash.Valid || hash.String == "" {
		return nil, "", ErrInvalidCredentials
	}

	ok, err := utils.VerifyPassword(password, hash.String)
	if err != nil || !ok {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.sessions.Create(ctx, p.ID)
	if err != nil {
		return nil, "", err
	}

	s.events.Publish(Event{PrincipalID: p.ID, SignedIn: true})
	return &p, token, nil
}

// FederatedSignIn upserts a principal for the external profile, creates a
// session, and publishes a signed-in event. The bool reports whether the
// principal was created on this call (first federated login).
func (s *Service) FederatedSignIn(ctx context.Context, fp *FederatedProfile) (*Principal, string, bool, error) {
	if fp == nil || fp.Subject == "" {
		return nil, "", false, errors.New("auth: federated profile must carry a subject")
	}

	var p Principal
	created := false
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, provider, created_at
		FROM principals WHERE provider = $1 AND provider_subject = $2
	`, fp.Provider, fp.Subject).Scan(&p.ID, &p.Email, &p.Provider, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		p = Principal{
			ID:        uuid.New().String(),
			Email:     strings.ToLower(strings.TrimSpace(fp.Email)),
			Provider:  fp.Provider,
			CreatedAt: time.Now().UTC(),
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO principals (id, email, provider, provider_subject, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, p.ID, p.Email, p.Provider, fp.Subject, p.CreatedAt)
		created = true
	}
	if err != nil {
		return nil, "", false, err
	}

	token, err := s.sessions.Create(ctx, p.ID)
	if err != nil {
		return nil, "", false, err
	}

	s.events.Publish(Event{PrincipalID: p.ID, SignedIn: true})
	return &p, token, created, nil
}

// GetPrincipal fetches a principal by id.
func (s *Service) GetPrincipal(ctx context.Context, principalID string) (*Principal, error) {
	var p Principal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, provider, created_at
		FROM principals WHERE id = $1
	`, principalID).Scan(&p.ID, &p.Email, &p.Provider, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPrincipalNotFound
		}
		return nil, err
	}
	return &p, nil
}

// SignOut invalidates the session and publishes a signed-out event.
func (s *Service) SignOut(ctx context.Context, token string) error {
	principalID, ok, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return err
	}
	if err := s.sessions.Invalidate(ctx, token); err != nil {
		return err
	}
	if ok {
		s.events.Publish(Event{PrincipalID: principalID, SignedIn: false})
	}
	return nil
}

// ValidateSession resolves a session token to a principal id.
func (s *Service) ValidateSession(ctx context.Context, token string) (string, bool, error) {
	return s.sessions.Validate(ctx, token)
}

// DeletePrincipal removes the principal row and all of its sessions. The
// caller is responsible for deleting the identity record first.
func (s *Service) DeletePrincipal(ctx context.Context, principalID string) error {
	if err := s.sessions.InvalidatePrincipal(ctx, principalID); err != nil {
		log.Printf("WARNING: failed to invalidate sessions for %s: %v", principalID, err)
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM principals WHERE id = $1`, principalID)
	if err == nil {
		s.events.Publish(Event{PrincipalID: principalID, SignedIn: false})
	}
	return err
}

// unique_violation per the PostgreSQL error-code table.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
