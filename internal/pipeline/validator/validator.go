// Package validator checks built candles against external truth and
// drives the repair protocol for mismatches.
package validator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"eldorado/internal/exchange"
	"eldorado/internal/model"
	"eldorado/internal/pipeline/agg"
	"eldorado/internal/store"
)

// OHLC relative tolerance absorbing exchange-reported rounding.
var relTolerance = decimal.New(1, -8) // 1e-8

const maxRepairAttempts = 2

// Validator runs daily and heartbeat reconciliation for one exchange's
// markets.
type Validator struct {
	Client  exchange.Client
	Trades  *store.TradeStore
	Candles *store.CandleStore
	Details *store.DetailStore
	Events  *store.EventStore
	Droplet string

	// OnMismatch is an optional metrics hook.
	OnMismatch func(market string)
}

// Verdict is the outcome of one reconciliation pass.
type Verdict struct {
	Match  bool
	Reason string
}

// withinTolerance reports |a-b| <= relTolerance * |b|, with exact
// equality required when the reference is zero.
func withinTolerance(a, b decimal.Decimal) bool {
	diff := a.Sub(b).Abs()
	if b.IsZero() {
		return diff.IsZero()
	}
	return diff.LessThanOrEqual(b.Abs().Mul(relTolerance))
}

// CompareDaily compares a locally summed day against the exchange
// daily candle: exact equality for volume and trade count, relative
// tolerance for OHLC. A negative exchange trade count means the
// exchange does not report one and the field is skipped.
func CompareDaily(local model.DailyCandle, remote model.DailyCandle) Verdict {
	if !local.Volume.Equal(remote.Volume) {
		return Verdict{Reason: fmt.Sprintf("volume %s != %s", local.Volume, remote.Volume)}
	}
	if remote.TradeCount >= 0 && local.TradeCount != remote.TradeCount {
		return Verdict{Reason: fmt.Sprintf("trade_count %d != %d", local.TradeCount, remote.TradeCount)}
	}
	pairs := []struct {
		name          string
		local, remote decimal.Decimal
	}{
		{"open", local.Open, remote.Open},
		{"high", local.High, remote.High},
		{"low", local.Low, remote.Low},
		{"close", local.Close, remote.Close},
	}
	for _, p := range pairs {
		if !withinTolerance(p.local, p.remote) {
			return Verdict{Reason: fmt.Sprintf("%s %s != %s", p.name, p.local, p.remote)}
		}
	}
	return Verdict{Match: true}
}

// ValidateDay reconciles one completed UTC day for a market. On match
// every bucket of the day is marked validated and the day's processed
// trades are promoted to validated. On mismatch a validation event is
// enqueued and the candles stay unvalidated.
func (v *Validator) ValidateDay(ctx context.Context, m *model.Market, day time.Time) (bool, error) {
	dayStart := model.DayStart(day)
	dayEnd := dayStart.Add(24 * time.Hour)

	candles, err := v.Candles.Read(ctx, m, dayStart, dayEnd)
	if err != nil {
		return false, err
	}
	want := int(24 * time.Hour / m.Timeframe.Duration())
	if len(candles) != want {
		return false, fmt.Errorf("day %s has %d of %d candles", dayStart.Format("2006-01-02"), len(candles), want)
	}

	remote, err := v.Client.DailyCandle(ctx, m.Symbol, dayStart)
	if err != nil {
		return false, err
	}
	remote.MarketID = m.ID
	if err := v.Candles.UpsertDaily(ctx, &remote); err != nil {
		return false, err
	}

	verdict := CompareDaily(agg.SumDay(candles), remote)
	if !verdict.Match {
		log.Printf("[validator] %s day %s mismatch: %s", m.Key(), dayStart.Format("2006-01-02"), verdict.Reason)
		if v.OnMismatch != nil {
			v.OnMismatch(m.Key())
		}
		err := v.Events.Enqueue(ctx, &model.Event{
			Type:     model.EventAuto,
			Exchange: m.Exchange,
			MarketID: m.ID,
			Start:    dayStart,
			Duration: 86400,
			Notes:    verdict.Reason,
		})
		return false, err
	}

	if err := v.Candles.MarkValidated(ctx, m, dayStart, dayEnd); err != nil {
		return false, err
	}
	if err := v.Trades.PromoteValidated(ctx, m, dayStart, dayEnd); err != nil {
		return false, err
	}
	log.Printf("[validator] %s day %s validated", m.Key(), dayStart.Format("2006-01-02"))
	return true, nil
}

// Heartbeat recomputes one closed bucket from the processed trade set
// and compares it to the stored candle. Discrepancies (concurrent
// writes, dropped websocket messages) enqueue a revalidate event.
func (v *Validator) Heartbeat(ctx context.Context, m *model.Market, bucketStart time.Time) error {
	bucketEnd := bucketStart.Add(m.Timeframe.Duration())

	stored, err := v.Candles.Read(ctx, m, bucketStart, bucketEnd)
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		return nil // bucket not built yet
	}

	trades, err := v.Trades.Read(ctx, m, model.BucketProcessed, bucketStart, bucketEnd)
	if err != nil {
		return err
	}
	if len(trades) == 0 && stored[0].IsForwardFill() {
		return nil
	}

	drift := ""
	switch {
	case len(trades) == 0:
		drift = "stored candle has trades but processed bucket is empty"
	case int64(len(trades)) != stored[0].TradeCount:
		drift = fmt.Sprintf("trade_count %d != %d", len(trades), stored[0].TradeCount)
	default:
		recomputed := agg.Aggregate(trades, bucketStart, m.Timeframe)
		if !recomputed.Volume.Equal(stored[0].Volume) ||
			!recomputed.Open.Equal(stored[0].Open) ||
			!recomputed.Close.Equal(stored[0].Close) ||
			!recomputed.High.Equal(stored[0].High) ||
			!recomputed.Low.Equal(stored[0].Low) {
			drift = "recomputed candle differs from stored"
		}
	}
	if drift == "" {
		return nil
	}

	log.Printf("[validator] %s bucket %s heartbeat drift: %s", m.Key(), bucketStart.Format(time.RFC3339), drift)
	return v.Events.Enqueue(ctx, &model.Event{
		Type:     model.EventRevalidate,
		Exchange: m.Exchange,
		MarketID: m.ID,
		Start:    bucketStart,
		Duration: m.Timeframe.Seconds(),
		Notes:    drift,
	})
}

// Repair is the manage-mode protocol for a failed validation: re-pull
// the affected window over REST, overwrite the rest bucket, re-run
// dedup and aggregation for every bucket of the window, then re-run the
// daily reconciliation. Idempotent, so at-least-once delivery of the
// event is safe.
func (v *Validator) Repair(ctx context.Context, m *model.Market, e *model.Event) error {
	start := e.Start
	end := start.Add(time.Duration(e.Duration) * time.Second)

	if err := v.repullWindow(ctx, m, start, end); err != nil {
		return fmt.Errorf("repull %s: %w", m.Key(), err)
	}

	if e.Type == model.EventRevalidate {
		if err := v.Candles.Unvalidate(ctx, m, start, end); err != nil {
			return err
		}
	}

	trades, err := v.Trades.PromoteProcessed(ctx, m, start, end)
	if err != nil {
		return err
	}

	for bucket := start; bucket.Before(end); bucket = bucket.Add(m.Timeframe.Duration()) {
		bucketTrades := store.InBucket(trades, bucket, bucket.Add(m.Timeframe.Duration()))
		if len(bucketTrades) == 0 {
			prev, ok, err := v.Candles.LastBefore(ctx, m, bucket)
			if err != nil {
				return err
			}
			if !ok {
				continue // nothing before the first trade of the market
			}
			ff := agg.ForwardFill(prev.Close, bucket, m.ID)
			if err := v.Candles.Upsert(ctx, m.Exchange, m.Timeframe, &ff); err != nil {
				return err
			}
			continue
		}
		c := agg.Aggregate(bucketTrades, bucket, m.Timeframe)
		if err := v.Candles.Upsert(ctx, m.Exchange, m.Timeframe, &c); err != nil {
			return err
		}
	}

	// Windows shorter than a day (revalidate events) validate against
	// the day they fall in.
	_, err = v.ValidateDay(ctx, m, model.DayStart(start))
	return err
}

// repullWindow replaces the rest bucket for [start, end) with a fresh
// REST pull.
func (v *Validator) repullWindow(ctx context.Context, m *model.Market, start, end time.Time) error {
	if err := v.Trades.Delete(ctx, m, model.BucketRest, start, end); err != nil {
		return err
	}

	page := exchange.Pagination{Start: start, End: end}
	for {
		tp, err := v.Client.Trades(ctx, m.Symbol, page)
		if err != nil {
			return err
		}
		for i := range tp.Trades {
			tp.Trades[i].MarketID = m.ID
		}
		if err := v.Trades.Insert(ctx, m, model.BucketRest, tp.Trades); err != nil {
			return err
		}
		if !tp.HasMore || len(tp.Trades) == 0 {
			return nil
		}
		if v.Client.PageDescending() {
			oldest := tp.Trades[len(tp.Trades)-1]
			if tp.NextID != "" {
				page.AfterID = tp.NextID
			} else {
				page.End = oldest.TS
			}
			if !oldest.TS.After(start) {
				return nil
			}
		} else {
			newest := tp.Trades[len(tp.Trades)-1]
			page.Start = newest.TS
			if !newest.TS.Before(end) {
				return nil
			}
		}
	}
}

// MaxRepairAttempts is the escalation threshold: after this many failed
// repairs the event resolves to error and an alert is emitted.
func MaxRepairAttempts() int { return maxRepairAttempts }
