package scheduler

import (
	"context"
	"log"
	"time"

	"eldorado/internal/exchange"
)

const (
	backoffBase     = time.Second
	backoffCap      = 60 * time.Second
	backoffAttempts = 8
)

// retry runs fn with capped exponential backoff, honoring explicit
// rate-limit delays. Non-retryable errors and budget exhaustion are
// returned to the caller, which transitions the market to Error.
func retry(ctx context.Context, op string, fn func() error) error {
	delay := backoffBase
	var err error
	for attempt := 1; attempt <= backoffAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !exchange.IsRetryable(err) {
			return err
		}
		wait := delay
		if ra, ok := exchange.RetryAfter(err); ok && ra > wait {
			wait = ra
		}
		if attempt == backoffAttempts {
			break
		}
		log.Printf("[scheduler] %s failed (attempt %d/%d): %v, retrying in %v", op, attempt, backoffAttempts, err, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if delay *= 2; delay > backoffCap {
			delay = backoffCap
		}
	}
	return err
}
