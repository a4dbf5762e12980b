package app

import (
	"context"
	"errors"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/domain"
)

type retryPolicy struct {
	attempts int
	backoff  time.Duration
}

// run executes fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. Exhaustion surfaces domain.ErrTransient joined with
// the last cause.
func (p retryPolicy) run(ctx context.Context, op string, m Metrics, fn func() error) error {
	attempts := p.attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !domain.IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		m.Retried(op)

		timer := time.NewTimer(p.backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(domain.ErrTransient, err, ctx.Err())
		case <-timer.C:
		}
	}
	return errors.Join(domain.ErrTransient, err)
}
