package retry

import (
	"testing"
	"time"

	"github.com/retrack-dev/engine/internal/types"
)

func TestIntervalConstant(t *testing.T) {
	s := types.RetryStrategy{Kind: types.RetryStrategyConstant, Interval: 60 * time.Second, MaxAttempts: 3}
	for attempt := 0; attempt < 5; attempt++ {
		if got := Interval(s, attempt); got != 60*time.Second {
			t.Errorf("attempt %d: got %v, want 60s", attempt, got)
		}
	}
}

func TestIntervalLinearClamped(t *testing.T) {
	s := types.RetryStrategy{
		Kind:        types.RetryStrategyLinear,
		Initial:     10 * time.Second,
		Increment:   10 * time.Second,
		MaxInterval: 25 * time.Second,
		MaxAttempts: 5,
	}
	want := []time.Duration{10 * time.Second, 20 * time.Second, 25 * time.Second, 25 * time.Second}
	for attempt, w := range want {
		if got := Interval(s, attempt); got != w {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, w)
		}
	}
}

func TestIntervalExponentialClampedAndMonotonic(t *testing.T) {
	s := types.RetryStrategy{
		Kind:        types.RetryStrategyExponential,
		Initial:     time.Second,
		Multiplier:  2,
		MaxInterval: 10 * time.Second,
		MaxAttempts: 6,
	}
	prev := time.Duration(0)
	for attempt := 0; attempt < 6; attempt++ {
		got := Interval(s, attempt)
		if got < prev {
			t.Errorf("attempt %d: interval %v is less than previous %v, expected monotonic", attempt, got, prev)
		}
		if got > s.MaxInterval {
			t.Errorf("attempt %d: interval %v exceeds max_interval %v", attempt, got, s.MaxInterval)
		}
		prev = got
	}
}

func TestIntervalExponentialOverflowClamps(t *testing.T) {
	s := types.RetryStrategy{
		Kind:        types.RetryStrategyExponential,
		Initial:     time.Second,
		Multiplier:  1000,
		MaxInterval: time.Minute,
		MaxAttempts: 10,
	}
	got := Interval(s, 9) // 1000^9 seconds massively overflows int64 duration
	if got != s.MaxInterval {
		t.Errorf("expected overflow clamp to max_interval, got %v", got)
	}
}

func TestExhausted(t *testing.T) {
	s := types.RetryStrategy{MaxAttempts: 3}
	if Exhausted(s, 1) {
		t.Error("attempt 1 of max_attempts=3 should not be exhausted")
	}
	if !Exhausted(s, 3) {
		t.Error("attempt 3 of max_attempts=3 should be exhausted")
	}
}
