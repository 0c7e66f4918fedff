package store

import (
	"sort"
	"time"

	"eldorado/internal/model"
)

// MergeTrades deduplicates the union of the rest and ws buckets on
// trade id, with the ws copy winning on conflict (its timestamp is
// closer to observation), and returns the result sorted ascending by
// (timestamp, trade_id). This is the promotion semantics of
// rest ∪ ws -> processed, factored out so it is a pure function.
func MergeTrades(rest, ws []model.Trade) []model.Trade {
	byID := make(map[string]model.Trade, len(rest)+len(ws))
	for _, t := range rest {
		byID[t.TradeID] = t
	}
	for _, t := range ws {
		byID[t.TradeID] = t
	}

	merged := make([]model.Trade, 0, len(byID))
	for _, t := range byID {
		merged = append(merged, t)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Before(&merged[j])
	})
	return merged
}

// InBucket filters trades to the half-open window [start, end),
// preserving order.
func InBucket(trades []model.Trade, start, end time.Time) []model.Trade {
	out := trades[:0:0]
	for _, t := range trades {
		if !t.TS.Before(start) && t.TS.Before(end) {
			out = append(out, t)
		}
	}
	return out
}
