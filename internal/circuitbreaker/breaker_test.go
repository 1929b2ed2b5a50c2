package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time      { return c.t }
func (c *clock) add(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*CircuitBreaker, *clock) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := New(cfg)
	cb.now = c.now
	cb.expiry = c.t.Add(cb.cfg.Interval)
	return cb, c
}

var errRedis = errors.New("connection refused")

func TestCircuitBreaker_ClosedState(t *testing.T) {
	cb, _ := newTestBreaker(Config{Threshold: 3, FailureRatio: 0.6})

	if cb.State() != StateClosed {
		t.Errorf("expected StateClosed, got %v", cb.State())
	}
	for i := 0; i < 5; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("expected StateClosed after successes, got %v", cb.State())
	}
}

func TestCircuitBreaker_OpensOnFailures(t *testing.T) {
	cb, _ := newTestBreaker(Config{Threshold: 3, FailureRatio: 0.6, Timeout: time.Second})

	cb.Execute(func() error { return errRedis })
	cb.Execute(func() error { return errRedis })
	if cb.State() != StateClosed {
		t.Errorf("expected StateClosed below threshold, got %v", cb.State())
	}

	cb.Execute(func() error { return errRedis })
	if cb.State() != StateOpen {
		t.Errorf("expected StateOpen after failures, got %v", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpenState) {
		t.Errorf("expected ErrOpenState, got %v", err)
	}
	if called {
		t.Error("open breaker must not run the call")
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	var transitions []string
	cb, c := newTestBreaker(Config{
		Threshold:    1,
		FailureRatio: 0.5,
		Timeout:      time.Second,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	cb.Execute(func() error { return errRedis })
	c.add(2 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen after timeout, got %v", cb.State())
	}

	// a failing probe reopens
	cb.Execute(func() error { return errRedis })
	if cb.State() != StateOpen {
		t.Fatalf("expected StateOpen after failed probe, got %v", cb.State())
	}

	c.add(2 * time.Second)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe should run: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected StateClosed after successful probe, got %v", cb.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_HalfOpenLetsOneCallThrough(t *testing.T) {
	cb, c := newTestBreaker(Config{Threshold: 1, FailureRatio: 0.5, Timeout: time.Second})
	cb.Execute(func() error { return errRedis })
	c.add(2 * time.Second)

	if !cb.allow() {
		t.Fatal("first half-open call should be allowed")
	}
	if cb.allow() {
		t.Error("second concurrent half-open call should be rejected")
	}
}

func TestCircuitBreaker_IntervalResetsCounts(t *testing.T) {
	cb, c := newTestBreaker(Config{Threshold: 4, FailureRatio: 0.5, Interval: time.Minute})

	cb.Execute(func() error { return errRedis })
	cb.Execute(func() error { return errRedis })
	c.add(2 * time.Minute)
	cb.Execute(func() error { return errRedis })

	if total, failures := cb.Counts(); total != 1 || failures != 1 {
		t.Errorf("counts = %d/%d, want 1/1", total, failures)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected StateClosed, got %v", cb.State())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
