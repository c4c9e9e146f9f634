package identity

import "context"

// Store is the persistence boundary for profiles and the username index.
// Implementations must keep the two collections consistent: every mutation
// that touches a username commits the profile change and the index change
// as one atomic unit, and index-entry creation must be create-if-absent so
// a concurrent writer fails with ErrUsernameTaken instead of silently
// overwriting.
//
// Error contract: ErrNotFound for missing documents, ErrUsernameTaken for a
// lost create-if-absent race, ErrPermissionDenied when the store's access
// rules reject the call, and *StoreError for transport failures.
type Store interface {
	// GetProfile returns the profile keyed by principal id.
	GetProfile(ctx context.Context, principalID string) (*Profile, error)

	// LookupUsername point-reads the index entry for a canonical username.
	LookupUsername(ctx context.Context, canonical string) (*IndexEntry, error)

	// CreateProfile atomically writes the profile and its index entry.
	// p.Username must already be canonical.
	CreateProfile(ctx context.Context, p *Profile) error

	// RenameUsername atomically creates the new index entry (create-if-
	// absent), deletes the old one, and rewrites the profile's username
	// fields.
	RenameUsername(ctx context.Context, principalID, oldCanonical, newCanonical, newDisplay string) error

	// UpdateProfile applies a typed patch to the profile's mutable,
	// non-username fields.
	UpdateProfile(ctx context.Context, principalID string, patch ProfilePatch) error

	// DeleteProfile atomically removes the profile and its index entry.
	DeleteProfile(ctx context.Context, principalID, canonical string) error

	// SearchByUsernamePrefix range-scans the index by canonical prefix and
	// returns the matching profiles. Read-only, not atomic.
	SearchByUsernamePrefix(ctx context.Context, prefix string, limit int) ([]Profile, error)
}
