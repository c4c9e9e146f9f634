package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and local development.
// A single mutex stands in for the backing store's transactions: every
// multi-document mutation happens under it, so the profile/index bijection
// holds at all times.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
	index    map[string]IndexEntry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]Profile),
		index:    make(map[string]IndexEntry),
	}
}

func (m *MemoryStore) GetProfile(ctx context.Context, principalID string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[principalID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) LookupUsername(ctx context.Context, canonical string) (*IndexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.index[canonical]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *MemoryStore) CreateProfile(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.index[p.Username]; exists {
		return ErrUsernameTaken
	}
	m.index[p.Username] = IndexEntry{
		Username:    p.Username,
		PrincipalID: p.PrincipalID,
		CreatedAt:   p.CreatedAt,
	}
	m.profiles[p.PrincipalID] = *p
	return nil
}

func (m *MemoryStore) RenameUsername(ctx context.Context, principalID, oldCanonical, newCanonical, newDisplay string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[principalID]
	if !ok {
		return ErrNotFound
	}
	if _, exists := m.index[newCanonical]; exists {
		return ErrUsernameTaken
	}

	m.index[newCanonical] = IndexEntry{
		Username:    newCanonical,
		PrincipalID: principalID,
		CreatedAt:   time.Now().UTC(),
	}
	delete(m.index, oldCanonical)

	p.Username = newCanonical
	p.DisplayUsername = newDisplay
	p.UpdatedAt = time.Now().UTC()
	m.profiles[principalID] = p
	return nil
}

func (m *MemoryStore) UpdateProfile(ctx context.Context, principalID string, patch ProfilePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[principalID]
	if !ok {
		return ErrNotFound
	}

	if patch.DisplayName != nil {
		p.DisplayName = *patch.DisplayName
	}
	if patch.FirstName != nil {
		p.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		p.LastName = *patch.LastName
	}
	if patch.Bio != nil {
		p.Bio = *patch.Bio
	}
	if patch.HomeCourseID != nil {
		p.HomeCourseID = *patch.HomeCourseID
	}
	if patch.HomeCourseName != nil {
		p.HomeCourseName = *patch.HomeCourseName
	}
	if patch.AvatarURL != nil {
		p.AvatarURL = *patch.AvatarURL
	}
	for _, f := range patch.Clear {
		switch f {
		case FieldBio:
			p.Bio = ""
		case FieldHomeCourse:
			p.HomeCourseID = ""
			p.HomeCourseName = ""
		case FieldAvatarURL:
			p.AvatarURL = ""
		}
	}

	p.UpdatedAt = time.Now().UTC()
	m.profiles[principalID] = p
	return nil
}

func (m *MemoryStore) DeleteProfile(ctx context.Context, principalID, canonical string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[principalID]; !ok {
		return ErrNotFound
	}
	delete(m.profiles, principalID)
	delete(m.index, canonical)
	return nil
}

func (m *MemoryStore) SearchByUsernamePrefix(ctx context.Context, prefix string, limit int) ([]Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	for name := range m.index {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []Profile
	for _, name := range names {
		if limit > 0 && len(out) >= limit {
			break
		}
		if p, ok := m.profiles[m.index[name].PrincipalID]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// CheckInvariant verifies the index/profile bijection: every profile with a
// username owns exactly one live index entry and vice versa. Test helper.
func (m *MemoryStore) CheckInvariant() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.profiles {
		if p.Username == "" {
			continue
		}
		e, ok := m.index[p.Username]
		if !ok {
			return &StoreError{Op: "invariant", Err: errNoEntry(id, p.Username)}
		}
		if e.PrincipalID != id {
			return &StoreError{Op: "invariant", Err: errWrongOwner(p.Username, e.PrincipalID, id)}
		}
	}
	for name, e := range m.index {
		p, ok := m.profiles[e.PrincipalID]
		if !ok || p.Username != name {
			return &StoreError{Op: "invariant", Err: errDangling(name, e.PrincipalID)}
		}
	}
	return nil
}

type invariantError string

func (e invariantError) Error() string { return string(e) }

func errNoEntry(id, name string) error {
	return invariantError("profile " + id + " holds username " + name + " with no index entry")
}

func errWrongOwner(name, got, want string) error {
	return invariantError("index entry " + name + " owned by " + got + ", profile says " + want)
}

func errDangling(name, id string) error {
	return invariantError("index entry " + name + " -> " + id + " has no matching profile")
}
