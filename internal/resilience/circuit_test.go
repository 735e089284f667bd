package resilience

import (
	"testing"
	"time"
)

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if err := b.Allow(); err != nil {
			t.Fatalf("breaker open after %d failures", i+1)
		}
	}

	b.RecordFailure()
	if err := b.Allow(); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if b.State() != CircuitOpen {
		t.Errorf("expected open state, got %v", b.State())
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if err := b.Allow(); err != nil {
		t.Fatalf("breaker should still be closed: %v", err)
	}
}

func TestBreaker_HalfOpenAfterResetWindow(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	b.nowFunc = func() time.Time { return now }

	b.RecordFailure()
	if err := b.Allow(); err != ErrCircuitOpen {
		t.Fatalf("expected open breaker, got %v", err)
	}

	now = now.Add(31 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected half-open probe admitted, got %v", err)
	}
	if b.State() != CircuitHalfOpen {
		t.Errorf("expected half-open state, got %v", b.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	b.nowFunc = func() time.Time { return now }

	b.RecordFailure()
	now = now.Add(31 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe should be admitted: %v", err)
	}

	b.RecordFailure()
	if err := b.Allow(); err != ErrCircuitOpen {
		t.Fatalf("expected reopened breaker, got %v", err)
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	b.nowFunc = func() time.Time { return now }

	b.RecordFailure()
	now = now.Add(31 * time.Second)
	_ = b.Allow()
	b.RecordSuccess()

	if b.State() != CircuitClosed {
		t.Errorf("expected closed state, got %v", b.State())
	}
}

func TestCircuitState_String(t *testing.T) {
	cases := map[CircuitState]string{
		CircuitClosed:   "closed",
		CircuitOpen:     "open",
		CircuitHalfOpen: "half-open",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("state %d: expected %q, got %q", state, want, got)
		}
	}
}
