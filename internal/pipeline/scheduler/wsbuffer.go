package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"eldorado/internal/model"
)

const wsFlushDelay = 500 * time.Millisecond

// wsBuffer accumulates one market's live trades between flushes to the
// ws bucket. Trades are persisted in arrival order; ordering by
// (timestamp, trade_id) is restored at promotion.
type wsBuffer struct {
	mu      sync.Mutex
	pending []model.Trade

	first    model.Trade // first ws trade observed this session
	hasFirst bool
	closer   bucketCloser
}

// observe appends a live trade and updates the close detector.
func (b *wsBuffer) observe(t model.Trade) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasFirst {
		b.first = t
		b.hasFirst = true
	}
	b.pending = append(b.pending, t)
	b.closer.Observe(t.TS)
}

// firstTrade returns the first live trade of the session, used for gap
// closure during Syncing.
func (b *wsBuffer) firstTrade() (model.Trade, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.first, b.hasFirst
}

// closed reports whether the bucket ending at boundary is sealed.
func (b *wsBuffer) closed(boundary, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closer.Closed(boundary, now)
}

// take drains the pending batch.
func (b *wsBuffer) take() []model.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.pending
	b.pending = nil
	return batch
}

// flushLoop writes pending trades to the ws bucket every wsFlushDelay,
// whatever the size of the batch. Unflushed trades
// at shutdown are simply re-fetched over REST on restart, idempotent by
// trade id.
func (r *marketRunner) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(wsFlushDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch := r.ws.take()
			if len(batch) == 0 {
				continue
			}
			if err := r.s.Trades.Insert(ctx, r.m, model.BucketWS, batch); err != nil {
				log.Printf("[scheduler] %s ws flush failed: %v", r.m.Key(), err)
				continue
			}
			if r.s.OnTradesIngested != nil {
				r.s.OnTradesIngested(r.m.Exchange, len(batch))
			}
		}
	}
}
