package circuitbreaker

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestBreaker(windowSize int, threshold float64, resetTimeout time.Duration, halfOpenMax int) *Breaker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(windowSize, threshold, resetTimeout, halfOpenMax, logger)
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := newTestBreaker(10, 0.5, time.Second, 2)

	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
	if !b.Allow() {
		t.Error("Allow() = false in closed state, want true")
	}
}

func TestBreaker_OpensOnFailureRate(t *testing.T) {
	b := newTestBreaker(10, 0.5, time.Second, 2)

	// 5 successes, 4 failures: window not full, stays closed.
	for i := 0; i < 5; i++ {
		b.RecordSuccess()
	}
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v before window fills, want closed", b.State())
	}

	// 10th outcome makes the window full at 50% failures.
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Errorf("state = %v after reaching failure threshold, want open", b.State())
	}
	if b.Allow() {
		t.Error("Allow() = true in open state, want false")
	}
}

func TestBreaker_StaysClosedBelowThreshold(t *testing.T) {
	b := newTestBreaker(10, 0.5, time.Second, 2)

	for i := 0; i < 7; i++ {
		b.RecordSuccess()
	}
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	if b.State() != StateClosed {
		t.Errorf("state = %v at 30%% failures, want closed", b.State())
	}
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	b := newTestBreaker(4, 0.5, 10*time.Millisecond, 2)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Error("Allow() = false after reset timeout, want true (half-open probe)")
	}
	if b.State() != StateHalfOpen {
		t.Errorf("state = %v, want half-open", b.State())
	}
}

func TestBreaker_ClosesAfterHalfOpenSuccesses(t *testing.T) {
	b := newTestBreaker(4, 0.5, 10*time.Millisecond, 2)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	time.Sleep(20 * time.Millisecond)
	b.Allow()

	b.RecordSuccess()
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v after one probe success, want half-open", b.State())
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Errorf("state = %v after %d probe successes, want closed", b.State(), 2)
	}
	if !b.Allow() {
		t.Error("Allow() = false after recovery, want true")
	}
}

func TestBreaker_ReopensOnHalfOpenFailure(t *testing.T) {
	b := newTestBreaker(4, 0.5, 10*time.Millisecond, 2)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	time.Sleep(20 * time.Millisecond)
	b.Allow()

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Errorf("state = %v after half-open failure, want open", b.State())
	}
}

func TestBreaker_WindowEvictsOldOutcomes(t *testing.T) {
	b := newTestBreaker(4, 0.75, time.Second, 2)

	// Fill the window with failures that never cross 75%.
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("state = %v at 50%% failures, want closed", b.State())
	}

	// Successes push the old failures out of the window.
	b.RecordSuccess()
	b.RecordSuccess()

	// Two fresh failures: 50% again, still below threshold.
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Errorf("state = %v after eviction, want closed", b.State())
	}

	// One more failure makes 75% of the current window.
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Errorf("state = %v at 75%% failures, want open", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := newTestBreaker(4, 0.5, time.Hour, 2)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("state = %v after Reset, want closed", b.State())
	}
	if !b.Allow() {
		t.Error("Allow() = false after Reset, want true")
	}
}

func TestState_String(t *testing.T) {
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
