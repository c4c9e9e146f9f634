package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenbook-app/greenbook-backend/internal/username"
)

// fakeTimer hands out one channel per after() call so tests control exactly
// which pending debounce fires.
type fakeTimer struct {
	created chan chan time.Time
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{created: make(chan chan time.Time, 16)}
}

func (f *fakeTimer) after(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	f.created <- ch
	return ch
}

func (f *fakeTimer) next(t *testing.T) chan time.Time {
	t.Helper()
	select {
	case ch := <-f.created:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatal("no debounce timer was created")
		return nil
	}
}

// updateSink collects checker emissions.
type updateSink struct {
	mu      sync.Mutex
	updates []CheckUpdate
	arrived chan struct{}
}

func newUpdateSink() *updateSink {
	return &updateSink{arrived: make(chan struct{}, 64)}
}

func (s *updateSink) record(u CheckUpdate) {
	s.mu.Lock()
	s.updates = append(s.updates, u)
	s.mu.Unlock()
	s.arrived <- struct{}{}
}

func (s *updateSink) waitFor(t *testing.T, n int) []CheckUpdate {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		s.mu.Lock()
		if len(s.updates) >= n {
			out := append([]CheckUpdate(nil), s.updates...)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		select {
		case <-s.arrived:
		case <-deadline:
			t.Fatalf("timed out waiting for %d updates", n)
		}
	}
}

func (s *updateSink) last(t *testing.T, n int) CheckUpdate {
	all := s.waitFor(t, n)
	return all[len(all)-1]
}

func TestCheckerBurstIssuesSingleRemoteCheck(t *testing.T) {
	timer := newFakeTimer()
	sink := newUpdateSink()

	var mu sync.Mutex
	var calls []string
	check := func(ctx context.Context, raw string) (bool, error) {
		mu.Lock()
		calls = append(calls, raw)
		mu.Unlock()
		return true, nil
	}

	c := NewChecker(check, sink.record, WithTimer(timer.after))

	// Each keystroke cancels the prior pending check. "j" and "jo" fail
	// local validation and never arm a timer at all.
	for _, key := range []string{"j", "jo", "joh", "john"} {
		c.Edited(key)
	}

	// Two timers were armed ("joh", "john"), in unspecified order; fire
	// both. The superseded goroutine exits via its cancelled context and
	// never calls the remote check.
	timer.next(t) <- time.Now()
	timer.next(t) <- time.Now()

	// Invalid, Invalid, Checking("joh"), Checking("john"), Available("john").
	last := sink.last(t, 5)
	assert.Equal(t, StateAvailable, last.State)
	assert.Equal(t, "john", last.Query)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 1, "the burst must produce exactly one remote call")
	assert.Equal(t, "john", calls[0])
}

func TestCheckerStaleResultNeverApplied(t *testing.T) {
	timer := newFakeTimer()
	sink := newUpdateSink()

	// The first check blocks until released, simulating a slow round-trip
	// during which the user keeps typing.
	release := make(chan struct{})
	started := make(chan string, 2)
	check := func(ctx context.Context, raw string) (bool, error) {
		started <- raw
		if raw == "abz" {
			<-release
			return true, nil // would read "available" — must be discarded
		}
		return false, nil
	}

	c := NewChecker(check, sink.record, WithTimer(timer.after))

	c.Edited("abz")
	timer.next(t) <- time.Now()
	require.Equal(t, "abz", <-started, "first check should be in flight")

	// Supersede mid round-trip.
	c.Edited("abzc")
	close(release)

	timer.next(t) <- time.Now()
	require.Equal(t, "abzc", <-started)

	last := sink.last(t, 3) // Checking, Checking, Taken
	assert.Equal(t, StateTaken, last.State)
	assert.Equal(t, "abzc", last.Query)

	// The stale "abz" result must never surface.
	for _, u := range sink.waitFor(t, 3) {
		if u.Query == "abz" {
			assert.Equal(t, StateChecking, u.State, "stale result for %q was applied", u.Query)
		}
	}
}

func TestCheckerInvalidInputSkipsNetwork(t *testing.T) {
	timer := newFakeTimer()
	sink := newUpdateSink()

	check := func(ctx context.Context, raw string) (bool, error) {
		t.Fatalf("remote check called for invalid input %q", raw)
		return false, nil
	}
	c := NewChecker(check, sink.record, WithTimer(timer.after))

	c.Edited("ab")
	u := sink.last(t, 1)
	assert.Equal(t, StateInvalid, u.State)
	assert.Equal(t, username.ReasonTooShort, u.Reason)

	c.Edited("_abc")
	u = sink.last(t, 2)
	assert.Equal(t, StateInvalid, u.State)
	assert.Equal(t, username.ReasonBadFormat, u.Reason)

	c.Edited("   ")
	u = sink.last(t, 3)
	assert.Equal(t, StateIdle, u.State)
}

func TestCheckerUnchangedFastPath(t *testing.T) {
	timer := newFakeTimer()
	sink := newUpdateSink()

	check := func(ctx context.Context, raw string) (bool, error) {
		t.Fatalf("remote check called for unchanged username %q", raw)
		return false, nil
	}
	c := NewChecker(check, sink.record,
		WithTimer(timer.after),
		WithCurrentUsername("Alice"))

	// Case-insensitively equal to the stored value: immediately savable.
	c.Edited("alice")
	u := sink.last(t, 1)
	assert.Equal(t, StateUnchanged, u.State)

	c.Edited("ALICE")
	u = sink.last(t, 2)
	assert.Equal(t, StateUnchanged, u.State)
}

func TestCheckerSurfacesTransportError(t *testing.T) {
	timer := newFakeTimer()
	sink := newUpdateSink()

	boom := errors.New("connection reset")
	check := func(ctx context.Context, raw string) (bool, error) {
		return false, boom
	}
	c := NewChecker(check, sink.record, WithTimer(timer.after))

	c.Edited("golfer")
	timer.next(t) <- time.Now()

	last := sink.last(t, 2)
	assert.Equal(t, StateError, last.State)
	assert.ErrorIs(t, last.Err, boom)
}

func TestCheckerStopCancelsPending(t *testing.T) {
	timer := newFakeTimer()
	sink := newUpdateSink()

	check := func(ctx context.Context, raw string) (bool, error) {
		t.Fatal("remote check ran after Stop")
		return false, nil
	}
	c := NewChecker(check, sink.record, WithTimer(timer.after))

	c.Edited("golfer")
	c.Stop()

	// Firing the orphaned timer must not reach the check function.
	select {
	case timer.next(t) <- time.Now():
	default:
	}
	time.Sleep(50 * time.Millisecond)

	all := sink.waitFor(t, 1)
	assert.Equal(t, StateChecking, all[len(all)-1].State)
}
