// Package scheduler drives each market's state machine in wall-clock
// time: subscribe, backfill, roll buckets up on close, validate, and
// emit alerts. One scheduler instance owns the markets it has leased;
// all cross-instance coordination goes through the database.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"eldorado/internal/exchange"
	"eldorado/internal/model"
	"eldorado/internal/pipeline/validator"
	"eldorado/internal/store"
)

// State names one stage of a market's lifecycle.
type State string

const (
	StateNew         State = "new"
	StateBackfilling State = "backfilling"
	StateSyncing     State = "syncing"
	StateLive        State = "live"
	StateValidating  State = "validating"
	StateArchived    State = "archived"
	StateError       State = "error"
)

// leaseExpiryFactor is the lease expiry as a multiple of the base
// timeframe.
const leaseExpiryFactor = 2

// tickInterval is the wall-clock tick period. Each market runner's live
// loop runs its own ticker at this interval; no single timer is shared
// by all markets.
const tickInterval = 5 * time.Second

// CandlePublisher receives finalized candles for live fan-out.
type CandlePublisher interface {
	PublishCandle(ctx context.Context, m *model.Market, c *model.Candle)
}

// Alerter delivers operator alerts (alerts table plus SMS).
type Alerter interface {
	Alert(ctx context.Context, level string, exchange string, marketID *uuid.UUID, message string)
}

// Archiver exports one frozen month of candles.
type Archiver interface {
	ExportMonth(ctx context.Context, m *model.Market, candles []model.Candle, month time.Time) error
}

// Config is the per-invocation scheduler configuration.
type Config struct {
	Droplet     string
	Exchange    string
	Mita        string
	Timeframe   model.Timeframe // default for markets without one
	HorizonDays int
	Workers     int
	DryRun      bool
}

// Scheduler owns the market runners for one exchange.
type Scheduler struct {
	Cfg       Config
	Client    exchange.Client
	Trades    *store.TradeStore
	Candles   *store.CandleStore
	Markets   *store.MarketStore
	Details   *store.DetailStore
	Events    *store.EventStore
	Instances *store.InstanceStore
	Validator *validator.Validator

	Publisher CandlePublisher // optional
	Alerts    Alerter         // optional
	Archive   Archiver        // optional

	// Now is the clock, injectable for tests.
	Now func() time.Time

	// Metrics hooks.
	OnTradesIngested func(exchange string, n int)
	OnCandleBuilt    func(exchange string, forwardFill bool)
	OnBackfillPage   func(exchange string)
	OnEventProcessed func(eventType, outcome string)
	OnDBWrite        func(seconds float64)
	OnStateChange    func(market string, state State)

	mu      sync.Mutex
	runners map[string]*marketRunner // keyed by wire symbol

	sem chan struct{} // bounded worker pool for heavy per-market work
}

// Run leases and drives every tradable market of the configured
// exchange and mita until ctx is cancelled. Graceful shutdown waits up
// to 30 s for in-flight work.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Now == nil {
		s.Now = time.Now
	}
	workers := s.Cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	s.sem = make(chan struct{}, workers)
	s.runners = make(map[string]*marketRunner)

	markets, err := s.Markets.Select(ctx, s.Cfg.Exchange, s.Cfg.Mita)
	if err != nil {
		return err
	}
	var owned []model.Market
	for _, m := range markets {
		if !m.Tradable {
			continue
		}
		if m.Timeframe == "" {
			m.Timeframe = s.Cfg.Timeframe
		}
		owned = append(owned, m)
	}
	if len(owned) == 0 {
		return fmt.Errorf("no tradable markets for exchange=%s mita=%s", s.Cfg.Exchange, s.Cfg.Mita)
	}
	log.Printf("[scheduler] driving %d markets on %s", len(owned), s.Cfg.Exchange)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	symbols := make([]string, 0, len(owned))
	healthy := 0
	for i := range owned {
		m := owned[i]
		if err := s.Trades.EnsureTables(runCtx, &m); err != nil {
			return err
		}
		if err := s.Candles.EnsureTable(runCtx, s.Cfg.Exchange, m.Timeframe); err != nil {
			return err
		}
		r := newMarketRunner(s, m)
		ok, err := s.Instances.Claim(runCtx, s.Cfg.Droplet, &m, leaseExpiryFactor*m.Timeframe.Duration())
		if err != nil {
			return err
		}
		if !ok {
			log.Printf("[scheduler] %s leased by another instance, skipping", m.Key())
			continue
		}
		s.mu.Lock()
		s.runners[m.Symbol] = r
		s.mu.Unlock()
		symbols = append(symbols, m.Symbol)
		healthy++

		wg.Add(1)
		go func() {
			defer wg.Done()
			r.run(runCtx)
		}()
	}
	if healthy == 0 {
		return fmt.Errorf("all markets leased elsewhere")
	}

	// One websocket session per exchange; the router fans trades out to
	// market buffers by symbol.
	tradeCh := make(chan model.Trade, 10000)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.Client.StreamTrades(runCtx, symbols, tradeCh); err != nil && runCtx.Err() == nil {
			log.Printf("[scheduler] trade stream ended: %v", err)
		}
		close(tradeCh)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.route(tradeCh)
	}()

	<-ctx.Done()
	log.Printf("[scheduler] shutdown signal received, draining...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Printf("[scheduler] shutdown grace expired, abandoning in-flight work")
	}

	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer releaseCancel()
	s.mu.Lock()
	for _, r := range s.runners {
		s.Instances.Release(releaseCtx, s.Cfg.Droplet, r.m.ID)
	}
	s.mu.Unlock()
	return nil
}

// route delivers streamed trades to their market's buffer.
func (s *Scheduler) route(tradeCh <-chan model.Trade) {
	for t := range tradeCh {
		s.mu.Lock()
		r := s.runners[t.Symbol]
		s.mu.Unlock()
		if r == nil {
			continue
		}
		t.MarketID = r.m.ID
		r.ws.observe(t)
	}
}

// acquire blocks until a worker slot is free.
func (s *Scheduler) acquire(ctx context.Context) bool {
	select {
	case s.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Scheduler) release() { <-s.sem }

func (s *Scheduler) setState(ctx context.Context, r *marketRunner, state State) {
	r.state = state
	log.Printf("[scheduler] %s -> %s", r.m.Key(), state)
	if s.OnStateChange != nil {
		s.OnStateChange(r.m.Key(), state)
	}
	if !s.Cfg.DryRun {
		if err := s.Markets.SetDataStatus(ctx, r.m.ID, string(state)); err != nil {
			log.Printf("[scheduler] %s data status update failed: %v", r.m.Key(), err)
		}
	}
}

// fail transitions a market to Error, records it, and alerts.
func (s *Scheduler) fail(ctx context.Context, r *marketRunner, cause error) {
	s.setState(ctx, r, StateError)
	s.Instances.SetStatus(ctx, s.Cfg.Droplet, r.m.ID, "error")
	msg := fmt.Sprintf("market %s halted: %v", r.m.Key(), cause)
	log.Printf("[scheduler] %s", msg)
	if s.Alerts != nil {
		id := r.m.ID
		s.Alerts.Alert(ctx, "critical", r.m.Exchange, &id, msg)
	}
}
