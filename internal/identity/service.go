package identity

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/greenbook-app/greenbook-backend/internal/username"
)

// Service enforces the username registration and rename protocol on top of
// a Store. All usernames are validated and normalized here before any
// network call; the store only ever sees canonical usernames.
type Service struct {
	store    Store
	failOpen bool
}

// NewService builds a Service. failOpen controls the availability-check
// policy when the store rejects the read with a permission error: true
// treats the name as available so a misconfigured rule set doesn't block
// every signup, false surfaces the error. Transport failures always
// surface regardless of the flag.
func NewService(store Store, failOpen bool) *Service {
	return &Service{store: store, failOpen: failOpen}
}

// CheckAvailability reports whether the username could be registered right
// now. Invalid, reserved, or profane names are "unavailable" without any
// store call. The result is advisory: registration still rechecks under the
// store's atomic create-if-absent write.
func (s *Service) CheckAvailability(ctx context.Context, raw string) (bool, error) {
	if v := username.Validate(raw); !v.Valid {
		return false, nil
	}

	canonical := username.Normalize(raw)
	_, err := s.store.LookupUsername(ctx, canonical)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, ErrNotFound):
		return true, nil
	case errors.Is(err, ErrPermissionDenied):
		if s.failOpen {
			log.Printf("WARNING: availability lookup for %q denied by store rules; failing open", canonical)
			return true, nil
		}
		return false, err
	default:
		return false, err
	}
}

// CreateWithUsername registers a new profile under the given raw username.
// The profile and its index entry are committed atomically; a concurrent
// registration of the same canonical name fails with ErrUsernameTaken.
func (s *Service) CreateWithUsername(ctx context.Context, p *Profile, raw string) error {
	if v := username.Validate(raw); !v.Valid {
		return &InvalidUsernameError{Reason: v.Reason}
	}

	now := time.Now().UTC()
	p.Username = username.Normalize(raw)
	p.DisplayUsername = username.Display(raw)
	p.CreatedAt = now
	p.UpdatedAt = now

	return s.store.CreateProfile(ctx, p)
}

// RenameUsername moves the principal to a new username. The old index entry
// is released and the new one reserved in one atomic commit; creation of the
// new entry is create-if-absent, so if another principal wins the race
// between the recheck here and the commit, this returns ErrUsernameTaken
// rather than overwriting their reservation.
func (s *Service) RenameUsername(ctx context.Context, principalID, raw string) error {
	if v := username.Validate(raw); !v.Valid {
		return &InvalidUsernameError{Reason: v.Reason}
	}

	current, err := s.store.GetProfile(ctx, principalID)
	if err != nil {
		return err
	}

	newCanonical := username.Normalize(raw)
	if newCanonical == current.Username {
		// Unchanged (case-insensitively): nothing to reserve or release.
		return nil
	}

	// Mandatory recheck: the debounced UI check may be stale by now.
	entry, err := s.store.LookupUsername(ctx, newCanonical)
	switch {
	case err == nil:
		if entry.PrincipalID != principalID {
			return ErrUsernameTaken
		}
	case errors.Is(err, ErrNotFound):
		// Free as far as we can tell; the reservation write decides.
	case errors.Is(err, ErrPermissionDenied):
		// Same policy as CheckAvailability. Proceeding is safe either way:
		// the create-if-absent write still rejects a held name.
		if !s.failOpen {
			return err
		}
		log.Printf("WARNING: rename recheck for %q denied by store rules; relying on the reservation write", newCanonical)
	default:
		return err
	}

	return s.store.RenameUsername(ctx, principalID, current.Username, newCanonical, username.Display(raw))
}

// DeleteIdentity removes the profile and releases its username atomically.
func (s *Service) DeleteIdentity(ctx context.Context, principalID string) error {
	current, err := s.store.GetProfile(ctx, principalID)
	if err != nil {
		return err
	}
	return s.store.DeleteProfile(ctx, principalID, current.Username)
}

// GetProfile returns the profile keyed by principal id.
func (s *Service) GetProfile(ctx context.Context, principalID string) (*Profile, error) {
	return s.store.GetProfile(ctx, principalID)
}

// GetByUsername resolves a raw username to its owning profile: index lookup
// first, then the record fetch. The two reads are sequential, not atomic.
func (s *Service) GetByUsername(ctx context.Context, raw string) (*Profile, error) {
	entry, err := s.store.LookupUsername(ctx, username.Normalize(raw))
	if err != nil {
		return nil, err
	}
	return s.store.GetProfile(ctx, entry.PrincipalID)
}

// UpdateProfile applies a typed patch to the mutable non-username fields.
func (s *Service) UpdateProfile(ctx context.Context, principalID string, patch ProfilePatch) error {
	if patch.IsZero() {
		return nil
	}
	return s.store.UpdateProfile(ctx, principalID, patch)
}

// Search returns profiles whose canonical username starts with the given
// prefix. Non-core convenience over the index range query.
func (s *Service) Search(ctx context.Context, prefix string, limit int) ([]Profile, error) {
	return s.store.SearchByUsernamePrefix(ctx, username.Normalize(prefix), limit)
}
