package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenbook-app/greenbook-backend/internal/auth"
	"github.com/greenbook-app/greenbook-backend/internal/identity"
)

// fakeAuth is an in-memory AuthProvider. Principals are keyed by email;
// tokens are "token-<id>".
type fakeAuth struct {
	nextID     int
	principals map[string]*auth.Principal // by email
	deleted    []string

	failCreate error
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{principals: make(map[string]*auth.Principal)}
}

func (f *fakeAuth) CreatePrincipal(ctx context.Context, email, password string) (*auth.Principal, error) {
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	if _, ok := f.principals[email]; ok {
		return nil, auth.ErrEmailTaken
	}
	f.nextID++
	p := &auth.Principal{
		ID:        fmt.Sprintf("principal-%04d", f.nextID),
		Email:     email,
		Provider:  "password",
		CreatedAt: time.Now(),
	}
	f.principals[email] = p
	return p, nil
}

func (f *fakeAuth) SignIn(ctx context.Context, email, password string) (*auth.Principal, string, error) {
	p, ok := f.principals[email]
	if !ok {
		return nil, "", auth.ErrInvalidCredentials
	}
	return p, "token-" + p.ID, nil
}

func (f *fakeAuth) FederatedSignIn(ctx context.Context, fp *auth.FederatedProfile) (*auth.Principal, string, bool, error) {
	if p, ok := f.principals[fp.Email]; ok {
		return p, "token-" + p.ID, false, nil
	}
	f.nextID++
	p := &auth.Principal{
		ID:        fmt.Sprintf("principal-%04d", f.nextID),
		Email:     fp.Email,
		Provider:  fp.Provider,
		CreatedAt: time.Now(),
	}
	f.principals[fp.Email] = p
	return p, "token-" + p.ID, true, nil
}

func (f *fakeAuth) SignOut(ctx context.Context, token string) error { return nil }

func (f *fakeAuth) DeletePrincipal(ctx context.Context, principalID string) error {
	f.deleted = append(f.deleted, principalID)
	for email, p := range f.principals {
		if p.ID == principalID {
			delete(f.principals, email)
		}
	}
	return nil
}

func newTestAccountService(t *testing.T) (*AccountService, *fakeAuth, *identity.MemoryStore) {
	t.Helper()
	store := identity.NewMemoryStore()
	authProvider := newFakeAuth()
	svc := NewAccountService(authProvider, identity.NewService(store, true))
	svc.randomSuffix = func() string { return "7777" }
	return svc, authProvider, store
}

func TestSignUpHappyPath(t *testing.T) {
	svc, _, store := newTestAccountService(t)
	ctx := context.Background()

	principal, token, err := svc.SignUp(ctx, "rory@example.com", "secret-password", "Rory")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	profile, err := store.GetProfile(ctx, principal.ID)
	require.NoError(t, err)
	assert.Equal(t, "rory", profile.Username)
	assert.Equal(t, "Rory", profile.DisplayUsername)
	assert.Equal(t, "rory@example.com", profile.Email)
	require.NoError(t, store.CheckInvariant())
}

func TestSignUpInvalidUsernameCreatesNothing(t *testing.T) {
	svc, authProvider, _ := newTestAccountService(t)

	_, _, err := svc.SignUp(context.Background(), "a@example.com", "secret-password", "_bad")
	var invalidErr *identity.InvalidUsernameError
	require.ErrorAs(t, err, &invalidErr)
	assert.Empty(t, authProvider.principals, "principal must not be created for an invalid username")
}

func TestSignUpTakenUsernameCreatesNoPrincipal(t *testing.T) {
	svc, authProvider, _ := newTestAccountService(t)
	ctx := context.Background()

	_, _, err := svc.SignUp(ctx, "first@example.com", "secret-password", "sammy")
	require.NoError(t, err)

	_, _, err = svc.SignUp(ctx, "second@example.com", "secret-password", "Sammy")
	require.ErrorIs(t, err, identity.ErrUsernameTaken)
	_, ok := authProvider.principals["second@example.com"]
	assert.False(t, ok)
}

func TestSignInResumesProvisioning(t *testing.T) {
	svc, authProvider, store := newTestAccountService(t)
	ctx := context.Background()

	// Simulate a signup that created the principal but died before the
	// profile write.
	principal, err := authProvider.CreatePrincipal(ctx, "orphan@example.com", "secret-password")
	require.NoError(t, err)

	got, profile, token, err := svc.SignIn(ctx, "orphan@example.com", "secret-password")
	require.ErrorIs(t, err, ErrProvisioningIncomplete)
	assert.Equal(t, principal.ID, got.ID)
	assert.Nil(t, profile)
	assert.NotEmpty(t, token, "session is still issued so provisioning can resume")

	completed, err := svc.CompleteProvisioning(ctx, principal.ID, principal.Email, "orphan")
	require.NoError(t, err)
	assert.Equal(t, "orphan", completed.Username)

	_, profile, _, err = svc.SignIn(ctx, "orphan@example.com", "secret-password")
	require.NoError(t, err)
	assert.Equal(t, "orphan", profile.Username)
	require.NoError(t, store.CheckInvariant())
}

func TestCompleteProvisioningRejectsProvisioned(t *testing.T) {
	svc, _, _ := newTestAccountService(t)
	ctx := context.Background()

	principal, _, err := svc.SignUp(ctx, "done@example.com", "secret-password", "done-user")
	require.NoError(t, err)

	_, err = svc.CompleteProvisioning(ctx, principal.ID, principal.Email, "another")
	assert.Error(t, err)
}

func TestFederatedSignInProvisionsBaseName(t *testing.T) {
	svc, _, store := newTestAccountService(t)
	ctx := context.Background()

	principal, profile, token, err := svc.FederatedSignIn(ctx, &auth.FederatedProfile{
		Provider:    "google",
		Subject:     "sub-1",
		Email:       "jordan@example.com",
		DisplayName: "Jordan Spieth",
		AvatarURL:   "https://img.example.com/jordan.png",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "jordanspieth", profile.Username)
	assert.Equal(t, "Jordan Spieth", profile.DisplayName)
	assert.Equal(t, "https://img.example.com/jordan.png", profile.AvatarURL)

	// Second login finds the existing profile instead of provisioning again.
	_, again, _, err := svc.FederatedSignIn(ctx, &auth.FederatedProfile{
		Provider: "google", Subject: "sub-1", Email: "jordan@example.com", DisplayName: "Jordan Spieth",
	})
	require.NoError(t, err)
	assert.Equal(t, profile.PrincipalID, again.PrincipalID)
	assert.Equal(t, principal.ID, again.PrincipalID)
	require.NoError(t, store.CheckInvariant())
}

func TestFederatedSignInFallsBackToEmailLocalPart(t *testing.T) {
	svc, _, _ := newTestAccountService(t)

	_, profile, _, err := svc.FederatedSignIn(context.Background(), &auth.FederatedProfile{
		Provider: "google",
		Subject:  "sub-2",
		Email:    "Casey.Martin@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "caseymartin", profile.Username)
}

func TestFederatedSignInProbesSuffixesOnCollision(t *testing.T) {
	svc, _, store := newTestAccountService(t)
	ctx := context.Background()

	// Occupy the base name.
	_, _, err := svc.SignUp(ctx, "taken@example.com", "secret-password", "annika")
	require.NoError(t, err)

	_, profile, _, err := svc.FederatedSignIn(ctx, &auth.FederatedProfile{
		Provider:    "google",
		Subject:     "sub-3",
		Email:       "annika@example.com",
		DisplayName: "Annika",
	})
	require.NoError(t, err)
	// Base taken, so the id-derived suffix candidate wins: the fake
	// principal ids end in four digits.
	assert.NotEqual(t, "annika", profile.Username)
	assert.Contains(t, profile.Username, "annika")
	require.NoError(t, store.CheckInvariant())
}

func TestFederatedSignInUnusableNameUsesFallback(t *testing.T) {
	svc, _, _ := newTestAccountService(t)

	// Display name and email local part both sanitize to nothing usable.
	_, profile, _, err := svc.FederatedSignIn(context.Background(), &auth.FederatedProfile{
		Provider:    "google",
		Subject:     "sub-4",
		Email:       "李@example.com",
		DisplayName: "李小龙",
	})
	require.NoError(t, err)
	assert.Contains(t, profile.Username, "user")
}

func TestUpdateProfileRenameThenPatch(t *testing.T) {
	svc, _, store := newTestAccountService(t)
	ctx := context.Background()

	principal, _, err := svc.SignUp(ctx, "patch@example.com", "secret-password", "before")
	require.NoError(t, err)

	bio := "Weekend golfer, 18 handicap"
	err = svc.UpdateProfile(ctx, principal.ID, "After", identity.ProfilePatch{Bio: &bio})
	require.NoError(t, err)

	profile, err := store.GetProfile(ctx, principal.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", profile.Username)
	assert.Equal(t, "After", profile.DisplayUsername)
	assert.Equal(t, bio, profile.Bio)

	// Old name is released.
	_, err = store.LookupUsername(ctx, "before")
	assert.ErrorIs(t, err, identity.ErrNotFound)
	require.NoError(t, store.CheckInvariant())
}

func TestUpdateProfileRenameFailureSkipsPatch(t *testing.T) {
	svc, _, store := newTestAccountService(t)
	ctx := context.Background()

	_, _, err := svc.SignUp(ctx, "holder@example.com", "secret-password", "holder")
	require.NoError(t, err)
	principal, _, err := svc.SignUp(ctx, "renamer@example.com", "secret-password", "renamer")
	require.NoError(t, err)

	bio := "should not land"
	err = svc.UpdateProfile(ctx, principal.ID, "holder", identity.ProfilePatch{Bio: &bio})
	require.ErrorIs(t, err, identity.ErrUsernameTaken)

	profile, err := store.GetProfile(ctx, principal.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamer", profile.Username)
	assert.Empty(t, profile.Bio)
}

func TestDeleteAccountReleasesUsernameAndPrincipal(t *testing.T) {
	svc, authProvider, store := newTestAccountService(t)
	ctx := context.Background()

	principal, _, err := svc.SignUp(ctx, "gone@example.com", "secret-password", "goner")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteAccount(ctx, principal.ID))
	assert.Equal(t, []string{principal.ID}, authProvider.deleted)

	_, err = store.LookupUsername(ctx, "goner")
	assert.ErrorIs(t, err, identity.ErrNotFound)

	// The freed name is immediately reusable.
	_, _, err = svc.SignUp(ctx, "next@example.com", "secret-password", "goner")
	require.NoError(t, err)
	require.NoError(t, store.CheckInvariant())
}

func TestDeleteAccountWithoutProfile(t *testing.T) {
	svc, authProvider, _ := newTestAccountService(t)
	ctx := context.Background()

	principal, err := authProvider.CreatePrincipal(ctx, "noprof@example.com", "secret-password")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteAccount(ctx, principal.ID))
	assert.Equal(t, []string{principal.ID}, authProvider.deleted)
}

func TestSignUpAuthFailureLeavesNoProfile(t *testing.T) {
	svc, authProvider, store := newTestAccountService(t)
	authProvider.failCreate = errors.New("db down")

	_, _, err := svc.SignUp(context.Background(), "x@example.com", "secret-password", "someone")
	require.Error(t, err)

	_, err = store.LookupUsername(context.Background(), "someone")
	assert.ErrorIs(t, err, identity.ErrNotFound)
}
