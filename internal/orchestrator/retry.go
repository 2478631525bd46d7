package orchestrator

import (
	"context"
	"math"
	"time"
)

// RetryPolicy controls how transient failures are retried. Attempts are
// counted from 1; MaxAttempts includes the first try.
type RetryPolicy struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
	}
}

// CalculateDelay returns the wait before retry number retry (0 for the
// wait after the first failure).
func (rp RetryPolicy) CalculateDelay(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	mult := rp.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := time.Duration(float64(rp.InitialDelay) * math.Pow(mult, float64(retry)))
	if rp.MaxDelay > 0 && (delay > rp.MaxDelay || delay < 0) {
		return rp.MaxDelay
	}
	return delay
}

func (rp RetryPolicy) attempts() int {
	if rp.MaxAttempts < 1 {
		return 1
	}
	return rp.MaxAttempts
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
