package scheduler

import "time"

// closeGrace is how far past a bucket boundary the wall clock must be
// before a quiet bucket is considered closed without a proving trade.
const closeGrace = time.Minute

// bucketCloser decides when the bucket ending at a boundary is sealed.
// The strong proof is a trade observed at or after the boundary; for
// markets with no flow the wall clock past boundary+grace is the
// fallback so forward-fills still get emitted.
type bucketCloser struct {
	lastTradeTS time.Time
}

// Observe records the latest live trade timestamp.
func (b *bucketCloser) Observe(ts time.Time) {
	if ts.After(b.lastTradeTS) {
		b.lastTradeTS = ts
	}
}

// Closed reports whether the bucket ending at boundary is sealed.
func (b *bucketCloser) Closed(boundary, now time.Time) bool {
	if !b.lastTradeTS.Before(boundary) {
		return true
	}
	return now.After(boundary.Add(closeGrace))
}
