package identity

import (
	"errors"
	"fmt"

	"github.com/greenbook-app/greenbook-backend/internal/username"
)

var (
	// ErrNotFound is returned when no profile or index entry matches.
	ErrNotFound = errors.New("identity: not found")

	// ErrUsernameTaken is returned when a create-if-absent write on the
	// username index loses to an existing entry, including the race where
	// another principal committed between recheck and commit.
	ErrUsernameTaken = errors.New("identity: username is already taken")

	// ErrPermissionDenied is returned when the store's access-control layer
	// rejects an operation. Availability checks may treat it as "available"
	// depending on the fail-open setting; writes always surface it.
	ErrPermissionDenied = errors.New("identity: permission denied by store")
)

// InvalidUsernameError reports a username that failed local validation.
// Callers branch on Reason; Error() carries the user-displayable text.
type InvalidUsernameError struct {
	Reason username.Reason
}

func (e *InvalidUsernameError) Error() string {
	return e.Reason.Message()
}

// StoreError wraps a transport-level failure from the backing store.
// Op is one of "lookup", "get", "create", "rename", "update", "delete",
// "search".
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("identity: store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
