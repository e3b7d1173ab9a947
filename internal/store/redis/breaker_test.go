package redis

import (
	"errors"
	"testing"
	"time"
)

var errFail = errors.New("fail")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(max int) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)}
	b := NewBreaker(max, 10*time.Second)
	b.now = clk.now
	return b, clk
}

func trip(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		b.Do(func() error { return errFail })
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3)
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %v", b.State())
	}

	trip(b, 2)
	if b.State() != StateClosed {
		t.Fatalf("expected closed after 2 failures, got %v", b.State())
	}
	trip(b, 1)
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %v", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if err != ErrCircuitOpen || called {
		t.Errorf("expected rejection without call, got err=%v called=%v", err, called)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3)
	trip(b, 2)
	b.Do(func() error { return nil })
	if b.Failures() != 0 {
		t.Fatalf("expected failures reset, got %d", b.Failures())
	}
	trip(b, 2)
	if b.State() != StateClosed {
		t.Errorf("expected closed, got %v", b.State())
	}
}

func TestBreaker_ProbeRecovers(t *testing.T) {
	b, clk := newTestBreaker(2)
	var transitions []State
	b.OnStateChange = func(_, to State) { transitions = append(transitions, to) }

	trip(b, 2)
	clk.advance(5 * time.Second)
	if err := b.Do(func() error { return nil }); err != ErrCircuitOpen {
		t.Fatalf("expected still open before reset timeout, got %v", err)
	}

	clk.advance(6 * time.Second)
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed after probe, got %v", b.State())
	}
	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clk := newTestBreaker(2)
	trip(b, 2)
	clk.advance(11 * time.Second)

	b.Do(func() error { return errFail })
	if b.State() != StateOpen {
		t.Fatalf("expected open after failed probe, got %v", b.State())
	}
	// reset window restarts from the failed probe
	clk.advance(5 * time.Second)
	if err := b.Do(func() error { return nil }); err != ErrCircuitOpen {
		t.Errorf("expected open, got %v", err)
	}
}

func TestBreaker_SingleProbe(t *testing.T) {
	b, clk := newTestBreaker(1)
	trip(b, 1)
	clk.advance(11 * time.Second)

	err := b.Do(func() error {
		if inner := b.Do(func() error { return nil }); inner != ErrCircuitOpen {
			t.Errorf("concurrent call during probe: got %v", inner)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed, got %v", b.State())
	}
}
