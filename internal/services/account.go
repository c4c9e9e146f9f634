// Package services holds the workflows that span the auth provider and the
// identity store: signup, sign-in with provisioning resume, federated
// auto-provisioning, profile updates, and account deletion.
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"regexp"
	"strings"

	"github.com/greenbook-app/greenbook-backend/internal/auth"
	"github.com/greenbook-app/greenbook-backend/internal/identity"
	"github.com/greenbook-app/greenbook-backend/internal/username"
)

// ErrProvisioningIncomplete is returned by SignIn when the principal exists
// but has no profile yet: a previous signup created the principal and then
// failed before the username was committed. The caller should collect a
// username and call CompleteProvisioning.
var ErrProvisioningIncomplete = errors.New("account: profile provisioning incomplete")

// AuthProvider is the slice of the auth service the workflows need.
type AuthProvider interface {
	CreatePrincipal(ctx context.Context, email, password string) (*auth.Principal, error)
	SignIn(ctx context.Context, email, password string) (*auth.Principal, string, error)
	FederatedSignIn(ctx context.Context, fp *auth.FederatedProfile) (*auth.Principal, string, bool, error)
	SignOut(ctx context.Context, token string) error
	DeletePrincipal(ctx context.Context, principalID string) error
}

// AccountService coordinates the auth provider and the identity service so
// that every signed-up principal ends with exactly one profile and one
// registered username.
type AccountService struct {
	auth     AuthProvider
	identity *identity.Service

	// randomSuffix generates the digit suffix for provisioning candidates.
	// Injectable so tests are deterministic.
	randomSuffix func() string
}

// NewAccountService wires the workflows over an auth provider and identity
// service.
func NewAccountService(authProvider AuthProvider, identitySvc *identity.Service) *AccountService {
	return &AccountService{
		auth:     authProvider,
		identity: identitySvc,
		randomSuffix: func() string {
			return fmt.Sprintf("%04d", rand.Intn(10000))
		},
	}
}

// SignUp registers a principal and its profile under the chosen username,
// then signs the principal in and returns the session token.
//
// Username validation and an advisory availability check run before the
// principal is created, so the common failure modes cost nothing. If the
// profile write fails after the principal exists, the principal is kept and
// the error returned; the next SignIn reports ErrProvisioningIncomplete and
// the flow resumes via CompleteProvisioning.
func (s *AccountService) SignUp(ctx context.Context, email, password, rawUsername string) (*auth.Principal, string, error) {
	if v := username.Validate(rawUsername); !v.Valid {
		return nil, "", &identity.InvalidUsernameError{Reason: v.Reason}
	}

	available, err := s.identity.CheckAvailability(ctx, rawUsername)
	if err != nil {
		return nil, "", err
	}
	if !available {
		return nil, "", identity.ErrUsernameTaken
	}

	principal, err := s.auth.CreatePrincipal(ctx, email, password)
	if err != nil {
		return nil, "", err
	}

	profile := &identity.Profile{
		PrincipalID: principal.ID,
		Email:       principal.Email,
	}
	if err := s.identity.CreateWithUsername(ctx, profile, rawUsername); err != nil {
		// Principal stays; provisioning resumes on the next sign-in.
		log.Printf("WARNING: profile creation failed for principal %s: %v", principal.ID, err)
		return nil, "", err
	}

	_, token, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, "", err
	}
	return principal, token, nil
}

// SignIn authenticates and loads the profile. A principal without a profile
// gets a valid session plus ErrProvisioningIncomplete so the client can
// finish signup where it broke off.
func (s *AccountService) SignIn(ctx context.Context, email, password string) (*auth.Principal, *identity.Profile, string, error) {
	principal, token, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, nil, "", err
	}

	profile, err := s.identity.GetProfile(ctx, principal.ID)
	if errors.Is(err, identity.ErrNotFound) {
		return principal, nil, token, ErrProvisioningIncomplete
	}
	if err != nil {
		return nil, nil, "", err
	}
	return principal, profile, token, nil
}

// CompleteProvisioning creates the missing profile for an already
// authenticated principal. Used after SignIn reported
// ErrProvisioningIncomplete.
func (s *AccountService) CompleteProvisioning(ctx context.Context, principalID, email, rawUsername string) (*identity.Profile, error) {
	if _, err := s.identity.GetProfile(ctx, principalID); err == nil {
		return nil, errors.New("account: profile already provisioned")
	} else if !errors.Is(err, identity.ErrNotFound) {
		return nil, err
	}

	profile := &identity.Profile{
		PrincipalID: principalID,
		Email:       email,
	}
	if err := s.identity.CreateWithUsername(ctx, profile, rawUsername); err != nil {
		return nil, err
	}
	return profile, nil
}

// maxRandomAttempts bounds how many random-suffix candidates federated
// provisioning tries before falling back to the id-derived name.
const maxRandomAttempts = 3

// FederatedSignIn signs in via an external provider, auto-provisioning a
// profile on first login. The username is derived from the provider profile
// and probed against the index: the base name first, then the base plus the
// last four characters of the principal id, then a few random-digit
// suffixes. If everything collides the id-derived fallback is used, which
// cannot reasonably collide.
func (s *AccountService) FederatedSignIn(ctx context.Context, fp *auth.FederatedProfile) (*auth.Principal, *identity.Profile, string, error) {
	principal, token, _, err := s.auth.FederatedSignIn(ctx, fp)
	if err != nil {
		return nil, nil, "", err
	}

	profile, err := s.identity.GetProfile(ctx, principal.ID)
	if err == nil {
		return principal, profile, token, nil
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return nil, nil, "", err
	}

	// First login (or an earlier provisioning attempt died): build the
	// profile now.
	profile = &identity.Profile{
		PrincipalID: principal.ID,
		Email:       principal.Email,
		DisplayName: fp.DisplayName,
		AvatarURL:   fp.AvatarURL,
	}
	if err := s.provisionUsername(ctx, profile, fp); err != nil {
		return nil, nil, "", err
	}
	return principal, profile, token, nil
}

func (s *AccountService) provisionUsername(ctx context.Context, profile *identity.Profile, fp *auth.FederatedProfile) error {
	base := deriveBase(fp.DisplayName, fp.Email)
	idSuffix := idDigits(profile.PrincipalID)

	candidates := make([]string, 0, 2+maxRandomAttempts)
	if base != "" {
		candidates = append(candidates, base)
		if len(idSuffix) >= 4 {
			candidates = append(candidates, truncate(base, username.MaxLength-4)+idSuffix[len(idSuffix)-4:])
		}
		for i := 0; i < maxRandomAttempts; i++ {
			candidates = append(candidates, truncate(base, username.MaxLength-4)+s.randomSuffix())
		}
	}

	for _, candidate := range candidates {
		if !username.Validate(candidate).Valid {
			continue
		}
		err := s.identity.CreateWithUsername(ctx, profile, candidate)
		if err == nil {
			return nil
		}
		if !errors.Is(err, identity.ErrUsernameTaken) {
			return err
		}
	}

	// The id prefix is unique per principal, so this terminates.
	fallback := "user" + truncate(idSuffix, 8)
	return s.identity.CreateWithUsername(ctx, profile, fallback)
}

var baseStripRegex = regexp.MustCompile(`[^a-z0-9_-]+`)

// deriveBase turns a display name (or failing that, the email local part)
// into a username-shaped base string. Returns "" when nothing usable
// survives sanitization.
func deriveBase(displayName, email string) string {
	source := displayName
	if strings.TrimSpace(source) == "" {
		source, _, _ = strings.Cut(email, "@")
	}

	base := strings.ToLower(strings.TrimSpace(source))
	base = baseStripRegex.ReplaceAllString(base, "")
	base = strings.TrimLeft(base, "_-")
	base = truncate(base, username.MaxLength)

	if len(base) < username.MinLength {
		return ""
	}
	return base
}

// idDigits strips hyphens from a principal id so slices of it are usable as
// username suffixes.
func idDigits(principalID string) string {
	return strings.ReplaceAll(strings.ToLower(principalID), "-", "")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// GetProfile returns the profile keyed by principal id.
func (s *AccountService) GetProfile(ctx context.Context, principalID string) (*identity.Profile, error) {
	return s.identity.GetProfile(ctx, principalID)
}

// GetByUsername resolves a raw username to its owning profile.
func (s *AccountService) GetByUsername(ctx context.Context, rawUsername string) (*identity.Profile, error) {
	return s.identity.GetByUsername(ctx, rawUsername)
}

// Search returns profiles whose username starts with the prefix.
func (s *AccountService) Search(ctx context.Context, prefix string, limit int) ([]identity.Profile, error) {
	return s.identity.Search(ctx, prefix, limit)
}

// CheckAvailability forwards the advisory availability check.
func (s *AccountService) CheckAvailability(ctx context.Context, rawUsername string) (bool, error) {
	return s.identity.CheckAvailability(ctx, rawUsername)
}

// UpdateProfile renames the username if a new one is given, then applies the
// field patch. The two steps are sequential: a successful rename followed by
// a failed patch leaves the rename in place.
func (s *AccountService) UpdateProfile(ctx context.Context, principalID, newRawUsername string, patch identity.ProfilePatch) error {
	if newRawUsername != "" {
		if err := s.identity.RenameUsername(ctx, principalID, newRawUsername); err != nil {
			return err
		}
	}
	return s.identity.UpdateProfile(ctx, principalID, patch)
}

// SignOut forwards to the auth provider.
func (s *AccountService) SignOut(ctx context.Context, token string) error {
	return s.auth.SignOut(ctx, token)
}

// DeleteAccount removes the profile (releasing its username) and then the
// principal. A principal that never finished provisioning has no profile;
// that is not an error.
func (s *AccountService) DeleteAccount(ctx context.Context, principalID string) error {
	err := s.identity.DeleteIdentity(ctx, principalID)
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		return err
	}
	return s.auth.DeletePrincipal(ctx, principalID)
}
