package probe

import (
	"context"
	"time"
)

const (
	DefaultMaxRetries = 2
	DefaultBackoff    = time.Second
)

// RetryChecker re-runs Inner on failure, waiting attempt*Backoff before each
// retry. Only the final outcome is returned.
type RetryChecker struct {
	Inner      Checker
	MaxRetries int
	Backoff    time.Duration
}

func NewRetryChecker(inner Checker, maxRetries int, backoff time.Duration) *RetryChecker {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff < 0 {
		backoff = 0
	}
	return &RetryChecker{Inner: inner, MaxRetries: maxRetries, Backoff: backoff}
}

func (r *RetryChecker) Check(ctx context.Context, target string) CheckResult {
	retries := max(r.MaxRetries, 0)

	var last CheckResult
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := Sleep(ctx, time.Duration(attempt)*r.Backoff); err != nil {
				last.Attempts = attempt
				return last
			}
		}
		last = r.Inner.Check(ctx, target)
		if last.Success() {
			last.Attempts = attempt + 1
			return last
		}
	}
	last.Attempts = retries + 1
	return last
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
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
