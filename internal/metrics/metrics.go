// Package metrics exposes the pipeline's Prometheus metrics and the
// /healthz endpoint.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the ingest pipeline.
type Metrics struct {
	TradesIngested *prometheus.CounterVec // labels: exchange
	CandlesBuilt   *prometheus.CounterVec // labels: exchange, kind=real|forward_fill
	WSReconnects   prometheus.Counter
	BackfillPages  *prometheus.CounterVec // labels: exchange

	ValidationPasses   *prometheus.CounterVec // labels: exchange
	ValidationFailures *prometheus.CounterVec // labels: exchange

	EventQueueDepth *prometheus.GaugeVec // labels: queue=validation|backfill
	EventsProcessed *prometheus.CounterVec // labels: type, outcome

	DBWriteDur prometheus.Histogram
	CandleLag  prometheus.Gauge

	MarketState *prometheus.GaugeVec // labels: market; value encodes the state
}

// stateValues maps scheduler states onto the market_state gauge.
var stateValues = map[string]float64{
	"new": 0, "backfilling": 1, "syncing": 2, "live": 3,
	"validating": 4, "archived": 5, "error": -1,
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TradesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eldorado_trades_ingested_total",
			Help: "Trades ingested from websocket and REST",
		}, []string{"exchange"}),
		CandlesBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eldorado_candles_built_total",
			Help: "Base-timeframe candles upserted",
		}, []string{"exchange", "kind"}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eldorado_ws_reconnects_total",
			Help: "Websocket reconnection attempts",
		}),
		BackfillPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eldorado_backfill_pages_total",
			Help: "Historical trade pages fetched",
		}, []string{"exchange"}),
		ValidationPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eldorado_validation_passes_total",
			Help: "Daily reconciliations that matched",
		}, []string{"exchange"}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eldorado_validation_failures_total",
			Help: "Daily reconciliations that mismatched",
		}, []string{"exchange"}),
		EventQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eldorado_event_queue_depth",
			Help: "Unclaimed events per queue family",
		}, []string{"queue"}),
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eldorado_events_processed_total",
			Help: "Queue events resolved",
		}, []string{"type", "outcome"}),
		DBWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eldorado_db_write_duration_seconds",
			Help:    "Database write latency",
			Buckets: prometheus.DefBuckets,
		}),
		CandleLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eldorado_candle_lag_seconds",
			Help: "Lag between bucket close and candle emission",
		}),
		MarketState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eldorado_market_state",
			Help: "Scheduler state per market (-1=error, 0=new, 1=backfilling, 2=syncing, 3=live, 4=validating, 5=archived)",
		}, []string{"market"}),
	}

	prometheus.MustRegister(
		m.TradesIngested, m.CandlesBuilt, m.WSReconnects, m.BackfillPages,
		m.ValidationPasses, m.ValidationFailures,
		m.EventQueueDepth, m.EventsProcessed,
		m.DBWriteDur, m.CandleLag, m.MarketState,
	)
	return m
}

// SetMarketState records a scheduler state transition.
func (m *Metrics) SetMarketState(market, state string) {
	if v, ok := stateValues[state]; ok {
		m.MarketState.WithLabelValues(market).Set(v)
	}
}

// HealthStatus tracks component liveness for /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected bool      `json:"ws_connected"`
	DBOK        bool      `json:"db_ok"`
	DBLatencyMs float64   `json:"db_latency_ms"`
	LastTradeTS time.Time `json:"last_trade_ts"`
	LastCheckAt time.Time `json:"last_check_at"`
	StartedAt   time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTradeTS(t time.Time) {
	h.mu.Lock()
	h.LastTradeTS = t
	h.mu.Unlock()
}

// CheckDB pings the database and records latency + health.
func (h *HealthStatus) CheckDB(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.DBOK = err == nil
	h.DBLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if db != nil {
					h.CheckDB(probeCtx, db)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.DBOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	} else if !h.WSConnected {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	status := struct {
		Status      string  `json:"status"`
		Uptime      string  `json:"uptime"`
		WSConnected bool    `json:"ws_connected"`
		DBOK        bool    `json:"db_ok"`
		DBLatencyMs float64 `json:"db_latency_ms"`
		LastTradeTS string  `json:"last_trade_ts"`
		LastCheckAt string  `json:"last_check_at"`
	}{
		Status:      overallStatus,
		Uptime:      time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected: h.WSConnected,
		DBOK:        h.DBOK,
		DBLatencyMs: h.DBLatencyMs,
		LastTradeTS: h.LastTradeTS.Format(time.RFC3339),
		LastCheckAt: h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
