package scheduler

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"eldorado/internal/exchange"
	"eldorado/internal/model"
	"eldorado/internal/pipeline/agg"
	"eldorado/internal/store"
)

// marketRunner drives one market's state machine. The market's trade
// and candle writes come from this runner: its state-machine goroutine
// and its ws flush loop. The ws buffer is the only state shared with
// the exchange router, which feeds it.
type marketRunner struct {
	s *Scheduler
	m *model.Market

	state State
	ws    wsBuffer

	lastCandle time.Time // bucket start of the newest built candle
	prevClose  decimal.Decimal
	hasPrev    bool

	detail model.MarketTradeDetail
}

func newMarketRunner(s *Scheduler, m model.Market) *marketRunner {
	mm := m
	return &marketRunner{s: s, m: &mm, state: StateNew}
}

// run executes the market's lifecycle until ctx is cancelled or the
// market fails. A lost lease cancels the runner.
func (r *marketRunner) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go r.flushLoop(ctx)
	go r.heartbeatLoop(ctx, cancel)

	if err := r.advance(ctx); err != nil && ctx.Err() == nil {
		r.s.fail(ctx, r, err)
	}
}

// heartbeatLoop refreshes the market lease; losing it stops the runner
// so the new holder owns the market exclusively.
func (r *marketRunner) heartbeatLoop(ctx context.Context, cancel context.CancelFunc) {
	interval := r.m.Timeframe.Duration() / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := r.s.Instances.Heartbeat(ctx, r.s.Cfg.Droplet, r.m.ID)
			if err != nil {
				log.Printf("[scheduler] %s heartbeat failed: %v", r.m.Key(), err)
				continue
			}
			if !ok {
				log.Printf("[scheduler] %s lease lost, stopping runner", r.m.Key())
				cancel()
				return
			}
		}
	}
}

// advance resumes from the persisted watermarks and walks the state
// machine forward.
func (r *marketRunner) advance(ctx context.Context) error {
	detail, ok, err := r.s.Details.TradeDetail(ctx, r.m.ID)
	if err != nil {
		return err
	}
	if ok {
		r.detail = detail
	}

	if !ok || detail.MarketStartTS == nil {
		if err := r.stateNew(ctx); err != nil {
			return err
		}
	}
	if err := r.restoreCursor(ctx); err != nil {
		return err
	}

	if r.detail.LastTradeID == "" {
		r.s.setState(ctx, r, StateBackfilling)
		if err := r.backfill(ctx); err != nil {
			return err
		}
	}

	r.s.setState(ctx, r, StateSyncing)
	if err := r.sync(ctx); err != nil {
		return err
	}

	r.s.setState(ctx, r, StateLive)
	return r.live(ctx)
}

// stateNew records the backfill horizon: now-90d for live mode, or the
// beginning of the market's history when the horizon is unbounded
// (archive mode).
func (r *marketRunner) stateNew(ctx context.Context) error {
	start := time.Time{}
	if r.s.Cfg.HorizonDays > 0 {
		start = r.m.Timeframe.BucketStart(r.s.Now().UTC().AddDate(0, 0, -r.s.Cfg.HorizonDays))
	}
	r.detail = model.MarketTradeDetail{MarketID: r.m.ID}
	if !start.IsZero() {
		r.detail.MarketStartTS = &start
	}
	return r.s.Details.SaveTradeDetail(ctx, &r.detail)
}

// restoreCursor reloads the candle watermark so a takeover resumes
// where the previous holder stopped.
func (r *marketRunner) restoreCursor(ctx context.Context) error {
	cd, ok, err := r.s.Details.CandleDetail(ctx, r.m.ID)
	if err != nil {
		return err
	}
	if !ok || cd.LastCandle == nil {
		return nil
	}
	r.lastCandle = *cd.LastCandle
	prev, found, err := r.s.Candles.LastBefore(ctx, r.m, r.lastCandle.Add(r.m.Timeframe.Duration()))
	if err != nil {
		return err
	}
	if found {
		r.prevClose = prev.Close
		r.hasPrev = true
	}
	return nil
}

// backfill walks historical trade pages backward from the present to
// the horizon, persisting to rest and recording watermarks, then
// builds candles for every complete bucket of the walked range.
func (r *marketRunner) backfill(ctx context.Context) error {
	var horizon time.Time
	if r.detail.MarketStartTS != nil {
		horizon = *r.detail.MarketStartTS
	}

	page := exchange.Pagination{End: r.s.Now().UTC()}
	for {
		var tp exchange.TradePage
		err := retry(ctx, r.m.Key()+" backfill page", func() error {
			var err error
			tp, err = r.s.Client.Trades(ctx, r.m.Symbol, page)
			return err
		})
		if err != nil {
			return err
		}
		if len(tp.Trades) == 0 {
			break
		}

		kept := tp.Trades[:0]
		for _, t := range tp.Trades {
			if !horizon.IsZero() && t.TS.Before(horizon) {
				continue
			}
			t.MarketID = r.m.ID
			kept = append(kept, t)
		}
		if err := r.s.Trades.Insert(ctx, r.m, model.BucketRest, kept); err != nil {
			return err
		}
		if r.s.OnTradesIngested != nil {
			r.s.OnTradesIngested(r.m.Exchange, len(kept))
		}
		if r.s.OnBackfillPage != nil {
			r.s.OnBackfillPage(r.m.Exchange)
		}
		r.extendWatermarks(kept)

		oldest := tp.Trades[len(tp.Trades)-1]
		if !tp.HasMore || (!horizon.IsZero() && oldest.TS.Before(horizon)) {
			break
		}
		if tp.NextID != "" {
			page.AfterID = tp.NextID
		} else {
			page.End = oldest.TS
		}
		if err := r.s.Details.SaveTradeDetail(ctx, &r.detail); err != nil {
			return err
		}
	}

	// Archive mode: the earliest trade found defines the market start.
	if r.detail.MarketStartTS == nil && !r.detail.FirstTradeTS.IsZero() {
		start := r.detail.FirstTradeTS
		r.detail.MarketStartTS = &start
	}
	if err := r.s.Details.SaveTradeDetail(ctx, &r.detail); err != nil {
		return err
	}

	if r.detail.FirstTradeTS.IsZero() {
		return nil // nothing traded inside the horizon yet
	}
	from := r.m.Timeframe.BucketStart(r.detail.FirstTradeTS)
	to := r.m.Timeframe.BucketStart(r.detail.LastTradeTS) // last complete bucket boundary
	return r.buildCandles(ctx, from, to)
}

// extendWatermarks widens the first/last trade watermarks with a batch.
func (r *marketRunner) extendWatermarks(trades []model.Trade) {
	for i := range trades {
		t := &trades[i]
		if r.detail.FirstTradeTS.IsZero() || t.TS.Before(r.detail.FirstTradeTS) {
			r.detail.FirstTradeTS = t.TS
			r.detail.FirstTradeID = t.TradeID
		}
		if t.TS.After(r.detail.LastTradeTS) {
			r.detail.LastTradeTS = t.TS
			r.detail.LastTradeID = t.TradeID
		}
	}
}

// buildCandles promotes and aggregates every bucket in [from, to),
// forward-filling empties, and advances the candle watermark. Works in
// day-sized chunks to bound memory.
func (r *marketRunner) buildCandles(ctx context.Context, from, to time.Time) error {
	tf := r.m.Timeframe.Duration()
	for chunk := from; chunk.Before(to); chunk = chunk.Add(24 * time.Hour) {
		chunkEnd := chunk.Add(24 * time.Hour)
		if chunkEnd.After(to) {
			chunkEnd = to
		}
		trades, err := r.s.Trades.PromoteProcessed(ctx, r.m, chunk, chunkEnd)
		if err != nil {
			return err
		}
		for bucket := chunk; bucket.Before(chunkEnd); bucket = bucket.Add(tf) {
			if err := r.emitBucket(ctx, bucket, store.InBucket(trades, bucket, bucket.Add(tf))); err != nil {
				return err
			}
		}
	}
	return r.saveCandleCursor(ctx)
}

// emitBucket writes one bucket's candle (real or forward-fill) and
// advances the in-memory cursor.
func (r *marketRunner) emitBucket(ctx context.Context, bucket time.Time, trades []model.Trade) error {
	var c model.Candle
	switch {
	case len(trades) > 0:
		c = agg.Aggregate(trades, bucket, r.m.Timeframe)
	case r.hasPrev:
		c = agg.ForwardFill(r.prevClose, bucket, r.m.ID)
	default:
		return nil // before the market's first trade, nothing to carry
	}

	if err := r.s.Candles.Upsert(ctx, r.m.Exchange, r.m.Timeframe, &c); err != nil {
		return err
	}
	if r.s.OnCandleBuilt != nil {
		r.s.OnCandleBuilt(r.m.Exchange, c.IsForwardFill())
	}
	if r.s.Publisher != nil {
		r.s.Publisher.PublishCandle(ctx, r.m, &c)
	}
	r.prevClose = c.Close
	r.hasPrev = true
	r.lastCandle = bucket
	return nil
}

func (r *marketRunner) saveCandleCursor(ctx context.Context) error {
	if r.lastCandle.IsZero() {
		return nil
	}
	cd, ok, err := r.s.Details.CandleDetail(ctx, r.m.ID)
	if err != nil {
		return err
	}
	if !ok {
		cd = model.MarketCandleDetail{MarketID: r.m.ID}
	}
	last := r.lastCandle
	if cd.FirstCandle == nil {
		first := r.m.Timeframe.BucketStart(r.detail.FirstTradeTS)
		cd.FirstCandle = &first
	}
	cd.LastCandle = &last
	if cd.NextTradeDay.IsZero() {
		cd.NextTradeDay = model.DayStart(last).Add(24 * time.Hour)
		cd.NextStatus = model.DayPending
	}
	return r.s.Details.SaveCandleDetail(ctx, &cd)
}

// sync closes the gap between the REST backfill cursor and the first
// websocket trade, then hands over to Live. Gap closure requires id
// contiguity on exchanges with monotone ids, timestamp contiguity
// otherwise.
func (r *marketRunner) sync(ctx context.Context) error {
	// Wait for the stream to produce the market's first live trade.
	var first model.Trade
	for {
		var ok bool
		if first, ok = r.ws.firstTrade(); ok {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(tickInterval):
		}
	}

	if r.detail.LastTradeID == "" {
		// Nothing backfilled (brand-new market inside a quiet horizon):
		// the live stream defines the start of history.
		return nil
	}

	const maxGapPasses = 5
	for pass := 0; !r.contiguous(first); pass++ {
		if pass >= maxGapPasses {
			return fmt.Errorf("%s: gap to first ws trade %s not closed after %d passes",
				r.m.Key(), first.TradeID, maxGapPasses)
		}
		if err := r.fetchGap(ctx, first); err != nil {
			return err
		}
	}
	return nil
}

// contiguous reports whether the backfill cursor reaches the first
// websocket trade.
func (r *marketRunner) contiguous(first model.Trade) bool {
	if r.s.Client.IDsMonotonic() {
		lastID, err1 := strconv.ParseInt(r.detail.LastTradeID, 10, 64)
		firstID, err2 := strconv.ParseInt(first.TradeID, 10, 64)
		if err1 == nil && err2 == nil {
			return lastID >= firstID-1
		}
	}
	return !r.detail.LastTradeTS.Before(first.TS)
}

// fetchGap walks REST pages over (last backfilled trade, first ws
// trade) until the whole window is covered, then extends the
// watermarks. Only a fully covered window may move the cursor, so an
// oversized gap cannot be declared contiguous after one page.
func (r *marketRunner) fetchGap(ctx context.Context, first model.Trade) error {
	floorTS := r.detail.LastTradeTS
	page := exchange.Pagination{Start: floorTS, End: first.TS}
	if r.s.Client.IDsMonotonic() && r.s.Client.PageDescending() {
		page.AfterID = first.TradeID
	}

	var gap []model.Trade
	for {
		var tp exchange.TradePage
		err := retry(ctx, r.m.Key()+" gap page", func() error {
			var err error
			tp, err = r.s.Client.Trades(ctx, r.m.Symbol, page)
			return err
		})
		if err != nil {
			return err
		}
		if r.s.OnBackfillPage != nil {
			r.s.OnBackfillPage(r.m.Exchange)
		}
		if len(tp.Trades) == 0 {
			// The exchange reports nothing (left) between the cursors;
			// fall back to timestamp contiguity so an id hole
			// (cancel-only ids) cannot wedge the market.
			break
		}

		for _, t := range tp.Trades {
			if t.TS.Before(floorTS) {
				continue
			}
			t.MarketID = r.m.ID
			gap = append(gap, t)
		}

		oldest := tp.Trades[len(tp.Trades)-1]
		if !tp.HasMore || !oldest.TS.After(floorTS) {
			break
		}
		if tp.NextID != "" {
			page.AfterID = tp.NextID
		} else if r.s.Client.PageDescending() {
			page.End = oldest.TS
		} else {
			page.Start = tp.Trades[len(tp.Trades)-1].TS
		}
	}

	if err := r.s.Trades.Insert(ctx, r.m, model.BucketRest, gap); err != nil {
		return err
	}
	if r.s.OnTradesIngested != nil && len(gap) > 0 {
		r.s.OnTradesIngested(r.m.Exchange, len(gap))
	}
	r.extendWatermarks(gap)
	if r.detail.LastTradeTS.Before(first.TS) && !r.contiguous(first) {
		// Window covered but ids still short of the ws cursor: accept
		// timestamp contiguity at the ws trade.
		r.detail.LastTradeTS = first.TS
		r.detail.LastTradeID = first.TradeID
	}
	return r.s.Details.SaveTradeDetail(ctx, &r.detail)
}

// live rolls buckets up as they close, validates at day boundaries, and
// archives frozen months. Blocks until ctx is cancelled.
func (r *marketRunner) live(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	if r.lastCandle.IsZero() {
		// First candle aligns to the first observed trade.
		first, ok := r.ws.firstTrade()
		if ok {
			r.lastCandle = r.m.Timeframe.BucketStart(first.TS).Add(-r.m.Timeframe.Duration())
		} else if !r.detail.FirstTradeTS.IsZero() {
			r.lastCandle = r.m.Timeframe.BucketStart(r.detail.FirstTradeTS).Add(-r.m.Timeframe.Duration())
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		now := r.s.Now().UTC()
		tf := r.m.Timeframe.Duration()

		for {
			if r.lastCandle.IsZero() {
				break
			}
			bucket := r.lastCandle.Add(tf)
			boundary := bucket.Add(tf)
			if !r.ws.closed(boundary, now) {
				break
			}
			if !r.s.acquire(ctx) {
				return nil
			}
			err := r.closeBucket(ctx, bucket)
			r.s.release()
			if err != nil {
				return err
			}

			// Heartbeat-recheck the previous bucket: promotion is
			// idempotent, so trades that straggled in after its close
			// land in processed now and surface as drift against the
			// stored candle, queueing a revalidate event.
			if prev := bucket.Add(-tf); !prev.Before(r.m.Timeframe.BucketStart(r.detail.FirstTradeTS)) {
				if _, err := r.s.Trades.PromoteProcessed(ctx, r.m, prev, bucket); err != nil {
					log.Printf("[scheduler] %s heartbeat promote %s: %v", r.m.Key(), prev.Format(time.RFC3339), err)
				} else if err := r.s.Validator.Heartbeat(ctx, r.m, prev); err != nil {
					log.Printf("[scheduler] %s heartbeat check %s: %v", r.m.Key(), prev.Format(time.RFC3339), err)
				}
			}

			// Crossing a UTC day boundary triggers validation of the
			// completed day.
			if model.DayStart(bucket.Add(tf)).After(model.DayStart(bucket)) {
				if err := r.validateDay(ctx, model.DayStart(bucket)); err != nil {
					return err
				}
			}
		}

		if err := r.maybeArchive(ctx, now); err != nil {
			return err
		}
	}
}

// closeBucket promotes the closed bucket's trades, aggregates (or
// forward-fills), upserts the candle, and persists the watermarks.
func (r *marketRunner) closeBucket(ctx context.Context, bucket time.Time) error {
	end := bucket.Add(r.m.Timeframe.Duration())
	start := time.Now()
	defer func() {
		if r.s.OnDBWrite != nil {
			r.s.OnDBWrite(time.Since(start).Seconds())
		}
	}()

	// Flush any buffered live trades so the promotion sees the full
	// bucket.
	if pending := r.ws.take(); len(pending) > 0 {
		if err := r.s.Trades.Insert(ctx, r.m, model.BucketWS, pending); err != nil {
			return err
		}
	}

	trades, err := r.s.Trades.PromoteProcessed(ctx, r.m, bucket, end)
	if err != nil {
		return err
	}
	r.extendWatermarks(trades)
	if err := r.emitBucket(ctx, bucket, trades); err != nil {
		return err
	}
	if err := r.s.Details.SaveTradeDetail(ctx, &r.detail); err != nil {
		return err
	}
	return r.saveCandleCursor(ctx)
}

// validateDay runs the day reconciliation in the Validating side state.
// A mismatch leaves an outstanding validation event and the market goes
// back to Live.
func (r *marketRunner) validateDay(ctx context.Context, day time.Time) error {
	r.s.setState(ctx, r, StateValidating)
	defer r.s.setState(ctx, r, StateLive)

	err := retry(ctx, r.m.Key()+" validate day", func() error {
		_, err := r.s.Validator.ValidateDay(ctx, r.m, day)
		return err
	})
	if err != nil {
		// Validation failure does not halt the pipeline; the day keeps
		// its event and the market moves forward.
		log.Printf("[scheduler] %s day %s validation error: %v", r.m.Key(), day.Format("2006-01-02"), err)
	}

	cd, ok, derr := r.s.Details.CandleDetail(ctx, r.m.ID)
	if derr != nil || !ok {
		return derr
	}
	cd.PrevTradeDay = day
	cd.PrevStatus = model.DayCompleted
	cd.NextTradeDay = day.Add(24 * time.Hour)
	cd.NextStatus = model.DayPending
	return r.s.Details.SaveCandleDetail(ctx, &cd)
}

// maybeArchive freezes the next archive month once it is fully behind
// the retention horizon: candles are exported and raw trade rows older
// than the horizon are deleted.
func (r *marketRunner) maybeArchive(ctx context.Context, now time.Time) error {
	if r.s.Archive == nil || r.s.Cfg.HorizonDays <= 0 {
		return nil
	}
	ad, ok, err := r.s.Details.ArchiveDetail(ctx, r.m.ID)
	if err != nil {
		return err
	}
	if !ok {
		if r.detail.FirstTradeTS.IsZero() {
			return nil
		}
		ad = model.MarketArchiveDetail{
			MarketID:  r.m.ID,
			NextMonth: model.MonthStart(r.detail.FirstTradeTS),
			Status:    model.DayPending,
		}
		return r.s.Details.SaveArchiveDetail(ctx, &ad)
	}

	horizon := now.AddDate(0, 0, -r.s.Cfg.HorizonDays)
	monthEnd := model.NextMonth(ad.NextMonth)
	if !monthEnd.Before(horizon) {
		return nil
	}

	candles, err := r.s.Candles.Read(ctx, r.m, ad.NextMonth, monthEnd)
	if err != nil {
		return err
	}
	if len(candles) > 0 {
		if err := r.s.Archive.ExportMonth(ctx, r.m, candles, ad.NextMonth); err != nil {
			return err
		}
	}
	for _, bucket := range []model.TradeBucket{model.BucketRest, model.BucketWS} {
		if err := r.s.Trades.Delete(ctx, r.m, bucket, ad.NextMonth, monthEnd); err != nil {
			return err
		}
	}
	log.Printf("[scheduler] %s archived month %s (%d candles)", r.m.Key(), ad.NextMonth.Format("2006-01"), len(candles))

	ad.NextMonth = monthEnd
	ad.Status = model.DayArchived
	return r.s.Details.SaveArchiveDetail(ctx, &ad)
}
