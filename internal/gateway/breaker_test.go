package gateway

import (
	"errors"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for breaker tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(failures, successes int, timeout time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(failures, successes, timeout)
	b.now = clock.now
	return b, clock
}

func TestBreaker_startsClosed(t *testing.T) {
	b, _ := newTestBreaker(3, 2, time.Second)

	if s := b.State(); s != BreakerClosed {
		t.Errorf("initial state = %v, want closed", s)
	}
	if err := b.Allow(); err != nil {
		t.Errorf("Allow() error = %v, want nil", err)
	}
}

func TestBreaker_opensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3, 2, time.Second)

	b.RecordFailure()
	b.RecordFailure()
	if s := b.State(); s != BreakerClosed {
		t.Errorf("state after 2 failures = %v, want closed", s)
	}

	b.RecordFailure()
	if s := b.State(); s != BreakerOpen {
		t.Errorf("state after 3 failures = %v, want open", s)
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_successResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, 2, time.Second)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if s := b.State(); s != BreakerClosed {
		t.Errorf("state = %v, want closed", s)
	}
	if f, _ := b.Counts(); f != 2 {
		t.Errorf("failures = %d, want 2", f)
	}
}

func TestBreaker_halfOpenAfterTimeout(t *testing.T) {
	b, clock := newTestBreaker(1, 1, time.Second)

	b.RecordFailure()
	clock.advance(500 * time.Millisecond)
	if err := b.Allow(); err == nil {
		t.Fatal("Allow() before timeout should fail")
	}

	clock.advance(time.Second)
	if s := b.State(); s != BreakerHalfOpen {
		t.Errorf("state after timeout = %v, want half-open", s)
	}
	if err := b.Allow(); err != nil {
		t.Errorf("Allow() in half-open = %v, want nil", err)
	}
}

func TestBreaker_halfOpenClosesAfterSuccesses(t *testing.T) {
	b, clock := newTestBreaker(1, 2, time.Second)

	b.RecordFailure()
	clock.advance(2 * time.Second)
	b.Allow()

	b.RecordSuccess()
	if s := b.State(); s != BreakerHalfOpen {
		t.Errorf("state after 1 success = %v, want half-open", s)
	}
	b.RecordSuccess()
	if s := b.State(); s != BreakerClosed {
		t.Errorf("state after 2 successes = %v, want closed", s)
	}
}

func TestBreaker_halfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1, 2, time.Second)

	b.RecordFailure()
	clock.advance(2 * time.Second)
	b.Allow()
	b.RecordFailure()

	if s := b.State(); s != BreakerOpen {
		t.Errorf("state = %v, want open", s)
	}
}

func TestBreaker_onStateChange(t *testing.T) {
	b, clock := newTestBreaker(1, 1, time.Second)

	var seen []BreakerState
	b.OnStateChange(func(s BreakerState) { seen = append(seen, s) })

	b.RecordFailure()
	clock.advance(2 * time.Second)
	b.Allow()
	b.RecordSuccess()

	want := []BreakerState{BreakerOpen, BreakerHalfOpen, BreakerClosed}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition[%d] = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestBreaker_defaults(t *testing.T) {
	b := NewBreaker(0, 0, 0)
	if b.failureThreshold != 5 || b.successThreshold != 2 || b.timeout != 30*time.Second {
		t.Errorf("defaults = (%d, %d, %v)", b.failureThreshold, b.successThreshold, b.timeout)
	}
}

func TestBreakerState_String(t *testing.T) {
	tests := map[BreakerState]string{
		BreakerClosed:    "closed",
		BreakerOpen:      "open",
		BreakerHalfOpen:  "half-open",
		BreakerState(42): "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
