package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/greenbook-app/greenbook-backend/internal/username"
)

// DefaultDebounce is the quiet period between the last keystroke and the
// remote availability lookup.
const DefaultDebounce = 500 * time.Millisecond

// CheckState is the UI-facing state of the availability checker.
type CheckState int

const (
	// StateIdle: empty input, nothing to check.
	StateIdle CheckState = iota
	// StateChecking: local validation passed, remote check pending.
	StateChecking
	// StateAvailable: the remote lookup found no reservation.
	StateAvailable
	// StateInvalid: local validation failed; see Reason. No network call.
	StateInvalid
	// StateTaken: the remote lookup found an existing reservation.
	StateTaken
	// StateUnchanged: input equals the stored username (case-insensitive);
	// always savable, no network call.
	StateUnchanged
	// StateError: the remote lookup failed with a transport error; the user
	// can retry by editing again.
	StateError
)

// CheckUpdate is delivered to the checker's callback for every state change.
type CheckUpdate struct {
	Query  string
	State  CheckState
	Reason username.Reason // set when State == StateInvalid
	Err    error           // set when State == StateError
}

// AvailabilityFunc performs the remote availability lookup.
type AvailabilityFunc func(ctx context.Context, raw string) (bool, error)

// Checker serializes a user's rapid username edits into at most one
// in-flight availability request. Each call to Edited cancels the previous
// pending check before anything else; a cancelled check never reaches the
// callback, even if cancellation lands mid round-trip. Updates are emitted
// one at a time under an internal lock, so the callback sees a serial
// stream and may safely touch unsynchronized UI state. The callback must
// not call back into the Checker.
type Checker struct {
	check   AvailabilityFunc
	emit    func(CheckUpdate)
	delay   time.Duration
	after   func(time.Duration) <-chan time.Time
	current string // canonical stored username, "" when signing up

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithDebounce overrides the quiet period.
func WithDebounce(d time.Duration) CheckerOption {
	return func(c *Checker) { c.delay = d }
}

// WithTimer substitutes the debounce timer source. Tests inject a fake so
// the quiet period elapses on demand.
func WithTimer(after func(time.Duration) <-chan time.Time) CheckerOption {
	return func(c *Checker) { c.after = after }
}

// WithCurrentUsername sets the stored username for the unchanged fast path
// (profile editing). Pass the raw stored value; it is normalized internally.
func WithCurrentUsername(raw string) CheckerOption {
	return func(c *Checker) { c.current = username.Normalize(raw) }
}

// NewChecker builds a Checker around the given availability function and
// update callback.
func NewChecker(check AvailabilityFunc, onUpdate func(CheckUpdate), opts ...CheckerOption) *Checker {
	c := &Checker{
		check: check,
		emit:  onUpdate,
		delay: DefaultDebounce,
		after: time.After,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Edited is called on every keystroke in the username field. It cancels any
// pending check, runs local validation synchronously, and schedules a remote
// check only when validation passes and the value differs from the stored
// username.
func (c *Checker) Edited(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Supersede the previous check before starting any new timer.
	c.cancelLocked()
	c.seq++

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		c.emit(CheckUpdate{Query: text, State: StateIdle})
		return
	}

	if c.current != "" && username.Normalize(text) == c.current {
		c.emit(CheckUpdate{Query: text, State: StateUnchanged})
		return
	}

	if v := username.Validate(text); !v.Valid {
		c.emit(CheckUpdate{Query: text, State: StateInvalid, Reason: v.Reason})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.emit(CheckUpdate{Query: text, State: StateChecking})

	go c.run(ctx, c.seq, text)
}

// Stop cancels any pending check. Call when the field loses relevance.
func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.seq++
}

func (c *Checker) cancelLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Checker) run(ctx context.Context, seq uint64, query string) {
	select {
	case <-ctx.Done():
		return
	case <-c.after(c.delay):
	}

	// Cancellation may land between the timer firing and this point.
	if ctx.Err() != nil {
		return
	}

	available, err := c.check(ctx, query)

	// ...or during the round-trip itself, hence the second check.
	if ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq {
		// A newer edit won; this result is stale.
		return
	}

	switch {
	case err != nil:
		c.emit(CheckUpdate{Query: query, State: StateError, Err: err})
	case available:
		c.emit(CheckUpdate{Query: query, State: StateAvailable})
	default:
		c.emit(CheckUpdate{Query: query, State: StateTaken})
	}
}
