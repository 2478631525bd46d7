package orchestrator

import (
	"context"
	"testing"
	"time"
)

func TestRetryPolicy_CalculateDelay(t *testing.T) {
	rp := RetryPolicy{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{-1, 100 * time.Millisecond},
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{60, time.Second},
	}
	for _, tt := range tests {
		if got := rp.CalculateDelay(tt.retry); got != tt.want {
			t.Errorf("CalculateDelay(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

func TestRetryPolicy_MultiplierBelowOneIsConstant(t *testing.T) {
	rp := RetryPolicy{InitialDelay: 50 * time.Millisecond, Multiplier: 0}
	if got := rp.CalculateDelay(5); got != 50*time.Millisecond {
		t.Errorf("expected constant delay, got %v", got)
	}
}

func TestRetryPolicy_Attempts(t *testing.T) {
	if got := (RetryPolicy{}).attempts(); got != 1 {
		t.Errorf("zero policy should try once, got %d", got)
	}
	if got := DefaultRetryPolicy().attempts(); got != 3 {
		t.Errorf("default policy should try 3 times, got %d", got)
	}
}

func TestSleep_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleep(ctx, time.Hour); err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Error("sleep ignored cancellation")
	}
}
