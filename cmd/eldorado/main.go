package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"eldorado/config"
	"eldorado/internal/archive"
	"eldorado/internal/exchange"
	"eldorado/internal/logger"
	"eldorado/internal/metrics"
	"eldorado/internal/model"
	"eldorado/internal/notification"
	"eldorado/internal/pipeline/bus"
	"eldorado/internal/pipeline/scheduler"
	"eldorado/internal/pipeline/validator"
	"eldorado/internal/publisher"
	"eldorado/internal/store"
)

const usage = `usage: eldorado <run|backfill|manage> [flags]

  run       drive the live pipeline for this instance's market set
  backfill  drain backfill-type events and exit
  manage    drain validation events and run daily reconciliation

flags:
  --instance <tag>   instance tag (mita) override
  --exchange <name>  exchange to drive (gdax, ftx, ftxus)
  --dry-run          log intended work without writing state
`

// exit codes: 0 clean, 1 config/startup error, 2 fatal runtime error.
func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	mode := os.Args[1]

	fs := flag.NewFlagSet(mode, flag.ExitOnError)
	instance := fs.String("instance", "", "instance tag (mita) override")
	exchangeName := fs.String("exchange", "", "exchange to drive")
	dryRun := fs.Bool("dry-run", false, "log intended work without writing state")
	fs.Parse(os.Args[2:])

	cfg := config.Load()
	if *instance != "" {
		cfg.Mita = *instance
	}
	if *exchangeName == "" {
		fmt.Fprintln(os.Stderr, "error: --exchange is required")
		os.Exit(1)
	}

	logger.Init(mode, cfg.Droplet, slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := setup(ctx, cfg, *exchangeName, *dryRun)
	if err != nil {
		log.Printf("[eldorado] startup failed: %v", err)
		os.Exit(1)
	}
	defer app.close()

	var runErr error
	switch mode {
	case "run":
		runErr = app.runLive(ctx)
	case "backfill":
		runErr = app.runBackfill(ctx)
	case "manage":
		runErr = app.runManage(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if runErr != nil {
		log.Printf("[eldorado] fatal: %v", runErr)
		os.Exit(2)
	}
}

// app wires the pipeline components for one invocation.
type app struct {
	cfg    *config.Config
	db     *store.DB
	client exchange.Client
	sched  *scheduler.Scheduler
	prom   *metrics.Metrics
	health *metrics.HealthStatus
	msrv   *metrics.Server
	pub    *publisher.Writer
}

func setup(ctx context.Context, cfg *config.Config, exchangeName string, dryRun bool) (*app, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(cfg.MigrationsDir); err != nil {
		db.Close()
		return nil, err
	}

	client, err := exchange.New(exchangeName)
	if err != nil {
		db.Close()
		return nil, err
	}

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	msrv := metrics.NewServer(cfg.MetricsAddr, health)
	msrv.Start()
	health.StartLivenessChecker(ctx, db.DB, 10*time.Second)

	switch c := client.(type) {
	case *exchange.GDAX:
		c.OnReconnect = prom.WSReconnects.Inc
	case *exchange.FTX:
		c.OnReconnect = prom.WSReconnects.Inc
	}

	trades := store.NewTradeStore(db)
	candles := store.NewCandleStore(db)
	markets := store.NewMarketStore(db)
	details := store.NewDetailStore(db)
	events := store.NewEventStore(db)
	instances := store.NewInstanceStore(db)

	var notifier notification.Notifier = notification.NewLogNotifier()
	if cfg.AlertingConfigured() && !dryRun {
		notifier = notification.NewTwilioNotifier(
			cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom, cfg.TwilioRecipients)
		log.Printf("[eldorado] twilio alerting enabled (%d recipients)", len(cfg.TwilioRecipients))
	}
	alerts := &notification.Service{
		Droplet:  cfg.Droplet,
		Store:    store.NewAlertStore(db),
		Notifier: notifier,
	}

	v := &validator.Validator{
		Client:  client,
		Trades:  trades,
		Candles: candles,
		Details: details,
		Events:  events,
		Droplet: cfg.Droplet,
		OnMismatch: func(market string) {
			prom.ValidationFailures.WithLabelValues(exchangeName).Inc()
		},
	}

	a := &app{cfg: cfg, db: db, client: client, prom: prom, health: health, msrv: msrv}

	if cfg.RedisAddr != "" {
		pub, err := publisher.New(publisher.WriterConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[eldorado] WARNING: redis init failed: %v (continuing without live fan-out)", err)
		} else {
			a.pub = pub
		}
	}

	var archiver scheduler.Archiver
	if exp, err := archive.New(cfg.ArchiveDir); err != nil {
		log.Printf("[eldorado] WARNING: archive dir unavailable: %v (archiving disabled)", err)
	} else {
		archiver = exp
	}

	sched := &scheduler.Scheduler{
		Cfg: scheduler.Config{
			Droplet:     cfg.Droplet,
			Exchange:    exchangeName,
			Mita:        cfg.Mita,
			Timeframe:   cfg.Timeframe,
			HorizonDays: cfg.HorizonDays,
			Workers:     cfg.Workers,
			DryRun:      dryRun,
		},
		Client:    client,
		Trades:    trades,
		Candles:   candles,
		Markets:   markets,
		Details:   details,
		Events:    events,
		Instances: instances,
		Validator: v,
		Alerts:    alerts,
		Archive:   archiver,

		OnTradesIngested: func(ex string, n int) {
			prom.TradesIngested.WithLabelValues(ex).Add(float64(n))
			health.SetLastTradeTS(time.Now().UTC())
		},
		OnBackfillPage: func(ex string) {
			prom.BackfillPages.WithLabelValues(ex).Inc()
		},
		OnEventProcessed: func(eventType, outcome string) {
			prom.EventsProcessed.WithLabelValues(eventType, outcome).Inc()
		},
		OnDBWrite: prom.DBWriteDur.Observe,
		OnCandleBuilt: func(ex string, forwardFill bool) {
			kind := "real"
			if forwardFill {
				kind = "forward_fill"
			}
			prom.CandlesBuilt.WithLabelValues(ex, kind).Inc()
		},
		OnStateChange: func(market string, state scheduler.State) {
			slog.Info("state transition", "market", market, "state", string(state))
			prom.SetMarketState(market, string(state))
		},
	}
	// Candle fan-out: scheduler -> bus -> {lag observer, live publisher}.
	candleCh := make(chan bus.Update, 5000)
	fan := bus.New(5000)
	lagCh := fan.Subscribe()
	var pubCh <-chan bus.Update
	if a.pub != nil {
		pubCh = fan.Subscribe()
	}
	go fan.Run(ctx, candleCh)
	go func() {
		for u := range lagCh {
			bucketClose := u.Candle.Datetime.Add(u.Market.Timeframe.Duration())
			prom.CandleLag.Set(time.Since(bucketClose).Seconds())
		}
	}()
	if a.pub != nil {
		go func(pub *publisher.Writer, in <-chan bus.Update) {
			for u := range in {
				pub.PublishCandle(ctx, u.Market, &u.Candle)
			}
		}(a.pub, pubCh)
	}
	sched.Publisher = busPublisher{in: candleCh}

	a.sched = sched
	return a, nil
}

// busPublisher feeds the scheduler's finalized candles into the
// fan-out without blocking the bucket-close path.
type busPublisher struct {
	in chan<- bus.Update
}

func (p busPublisher) PublishCandle(ctx context.Context, m *model.Market, c *model.Candle) {
	select {
	case p.in <- bus.Update{Market: m, Candle: *c}:
	default:
	}
}

// runLive drives the live pipeline until a shutdown signal.
func (a *app) runLive(ctx context.Context) error {
	a.health.SetWSConnected(true)
	log.Printf("[eldorado] run mode: exchange=%s mita=%q droplet=%s tf=%s horizon=%dd",
		a.sched.Cfg.Exchange, a.cfg.Mita, a.cfg.Droplet, a.cfg.Timeframe, a.cfg.HorizonDays)
	return a.sched.Run(ctx)
}

// runBackfill drains the backfill event queue and exits.
func (a *app) runBackfill(ctx context.Context) error {
	log.Printf("[eldorado] backfill mode: draining queue")
	w := &scheduler.EventWorker{Sched: a.sched, Types: model.BackfillTypes, Once: true}
	return w.Drain(ctx)
}

// runManage drains validation events continuously and fires the daily
// reconciliation shortly after each UTC midnight.
func (a *app) runManage(ctx context.Context) error {
	cr := cron.New(cron.WithLocation(time.UTC))
	_, err := cr.AddFunc("10 0 * * *", func() {
		if err := a.reconcileYesterday(ctx); err != nil {
			log.Printf("[eldorado] daily reconciliation: %v", err)
		}
	})
	if err != nil {
		return err
	}
	cr.Start()
	defer cr.Stop()

	go a.watchQueueDepth(ctx)

	log.Printf("[eldorado] manage mode: draining validation events, daily reconciliation at 00:10 UTC")
	w := &scheduler.EventWorker{Sched: a.sched, Types: model.ValidationTypes}
	return w.Drain(ctx)
}

// watchQueueDepth samples the unclaimed event counts for the metrics
// endpoint.
func (a *app) watchQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := a.sched.Events.Depth(ctx, model.ValidationTypes); err == nil {
				a.prom.EventQueueDepth.WithLabelValues("validation").Set(float64(n))
			}
			if n, err := a.sched.Events.Depth(ctx, model.BackfillTypes); err == nil {
				a.prom.EventQueueDepth.WithLabelValues("backfill").Set(float64(n))
			}
			// Items left open by a crashed worker go back to the queue.
			if stale, err := a.sched.Events.StaleOpen(ctx, time.Hour); err == nil {
				for _, e := range stale {
					log.Printf("[eldorado] releasing stale open event %d (%s)", e.ID, e.Type)
					a.sched.Events.Release(ctx, e.ID)
				}
			}
		}
	}
}

// reconcileYesterday validates the previous UTC day for every market of
// the exchange.
func (a *app) reconcileYesterday(ctx context.Context) error {
	day := model.DayStart(time.Now().UTC()).Add(-24 * time.Hour)
	markets, err := a.sched.Markets.Select(ctx, a.sched.Cfg.Exchange, a.cfg.Mita)
	if err != nil {
		return err
	}
	for i := range markets {
		m := &markets[i]
		if !m.Tradable {
			continue
		}
		ok, err := a.sched.Validator.ValidateDay(ctx, m, day)
		if err != nil {
			log.Printf("[eldorado] %s day %s: %v", m.Key(), day.Format("2006-01-02"), err)
			continue
		}
		if ok {
			a.prom.ValidationPasses.WithLabelValues(m.Exchange).Inc()
		}
	}
	return nil
}

func (a *app) close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.msrv.Stop(shutdownCtx)
	if a.pub != nil {
		a.pub.Close()
	}
	a.db.Close()
}
