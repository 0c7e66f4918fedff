package scheduler

import (
	"context"
	"errors"
	"testing"

	"eldorado/internal/exchange"
)

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := retry(context.Background(), "op", func() error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Errorf("expected one clean call, got calls=%d err=%v", calls, err)
	}
}

func TestRetry_NonRetryableFailsFast(t *testing.T) {
	calls := 0
	bad := &exchange.ClientError{Kind: exchange.KindInvalidRequest, Op: "op", Err: errors.New("bad symbol")}
	err := retry(context.Background(), "op", func() error {
		calls++
		return bad
	})
	if calls != 1 {
		t.Errorf("invalid request must not be retried, got %d calls", calls)
	}
	if !errors.Is(err, bad) {
		t.Errorf("expected the original error back, got %v", err)
	}
}

func TestRetry_TransientRecovers(t *testing.T) {
	calls := 0
	err := retry(context.Background(), "op", func() error {
		calls++
		if calls == 1 {
			return &exchange.ClientError{Kind: exchange.KindTransient, Op: "op", Err: errors.New("reset")}
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected recovery, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retry(ctx, "op", func() error {
		return &exchange.ClientError{Kind: exchange.KindTransient, Op: "op", Err: errors.New("reset")}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
