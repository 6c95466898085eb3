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

// Metrics holds all Prometheus metrics for the trading engines.
type Metrics struct {
	// Market-data client
	BinanceRequests   *prometheus.CounterVec // labels: endpoint, outcome
	BinanceUsedWeight prometheus.Gauge
	BinanceRequestDur prometheus.Histogram

	// Candle persistence
	CandlesUpserted prometheus.Counter
	UpsertDur       prometheus.Histogram

	// Download engine
	JobsStarted   prometheus.Counter
	JobsCompleted *prometheus.CounterVec // labels: status
	GapsFilled    prometheus.Counter

	// Scanner
	ScanCycles     prometheus.Counter
	ScanSkips      *prometheus.CounterVec // labels: reason
	SignalsEmitted *prometheus.CounterVec // labels: side

	// Tracker
	TrackerPasses prometheus.Counter
	TradesOpened  prometheus.Counter
	TradesClosed  *prometheus.CounterVec // labels: reason
	TrackerLag    prometheus.Gauge

	// Derived metrics engine
	MetricRowsWritten prometheus.Counter
	MetricComputeDur  prometheus.Histogram

	// Backtests
	BacktestsRun prometheus.Counter
	BacktestDur  prometheus.Histogram
}

// New registers and returns all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		BinanceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trading_binance_requests_total",
			Help: "Binance REST requests by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		BinanceUsedWeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trading_binance_used_weight",
			Help: "Last reported X-MBX-USED-WEIGHT-1M value",
		}),
		BinanceRequestDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trading_binance_request_duration_seconds",
			Help:    "Binance REST request latency",
			Buckets: prometheus.DefBuckets,
		}),

		CandlesUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trading_candles_upserted_total",
			Help: "Candles written to the store (inserts and replacements)",
		}),
		UpsertDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trading_candle_upsert_duration_seconds",
			Help:    "Candle batch upsert latency",
			Buckets: prometheus.DefBuckets,
		}),

		JobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trading_download_jobs_started_total",
			Help: "Download jobs moved to running",
		}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trading_download_jobs_finished_total",
			Help: "Download jobs reaching a terminal status",
		}, []string{"status"}),
		GapsFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trading_download_gaps_filled_total",
			Help: "Missing candles fetched by the download engine",
		}),

		ScanCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trading_scan_cycles_total",
			Help: "Scanner loop iterations",
		}),
		ScanSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trading_scan_skips_total",
			Help: "Configs skipped per cycle by reason",
		}, []string{"reason"}),
		SignalsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trading_signals_emitted_total",
			Help: "Signals inserted (deduplicated re-emissions excluded)",
		}, []string{"side"}),

		TrackerPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trading_tracker_passes_total",
			Help: "Tracker loop iterations",
		}),
		TradesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trading_trades_opened_total",
			Help: "Simulated trades filled at entry",
		}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trading_trades_closed_total",
			Help: "Simulated trades closed by exit reason",
		}, []string{"reason"}),
		TrackerLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trading_tracker_lag_seconds",
			Help: "Age of the oldest unfilled pending_entry trade",
		}),

		MetricRowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trading_metric_rows_written_total",
			Help: "Derived metric rows upserted",
		}),
		MetricComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trading_metric_compute_duration_seconds",
			Help:    "Derived metrics computation latency per pair",
			Buckets: prometheus.DefBuckets,
		}),

		BacktestsRun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trading_backtests_total",
			Help: "Backtest executions",
		}),
		BacktestDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trading_backtest_duration_seconds",
			Help:    "Backtest walk latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
	}

	prometheus.MustRegister(
		m.BinanceRequests,
		m.BinanceUsedWeight,
		m.BinanceRequestDur,
		m.CandlesUpserted,
		m.UpsertDur,
		m.JobsStarted,
		m.JobsCompleted,
		m.GapsFilled,
		m.ScanCycles,
		m.ScanSkips,
		m.SignalsEmitted,
		m.TrackerPasses,
		m.TradesOpened,
		m.TradesClosed,
		m.TrackerLag,
		m.MetricRowsWritten,
		m.MetricComputeDur,
		m.BacktestsRun,
		m.BacktestDur,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	DatabaseOK    bool   `json:"database_ok"`
	BinanceStatus string `json:"binance_status"`
	ScannerOK     bool   `json:"scanner_ok"`
	TrackerOK     bool   `json:"tracker_ok"`

	DatabaseLatencyMs float64   `json:"database_latency_ms"`
	LastCheckAt       time.Time `json:"last_check_at"`
	StartedAt         time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt:     time.Now(),
		BinanceStatus: "ok",
	}
}

func (h *HealthStatus) SetScannerOK(v bool) {
	h.mu.Lock()
	h.ScannerOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetTrackerOK(v bool) {
	h.mu.Lock()
	h.TrackerOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetBinanceStatus(s string) {
	h.mu.Lock()
	h.BinanceStatus = s
	h.mu.Unlock()
}

// CheckDatabase pings the store and records latency + health.
func (h *HealthStatus) CheckDatabase(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.DatabaseOK = err == nil
	h.DatabaseLatencyMs = float64(latency.Microseconds()) / 1000.0
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
					h.CheckDatabase(probeCtx, db)
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
	if !h.DatabaseOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	} else if h.BinanceStatus == "blocked" || !h.ScannerOK || !h.TrackerOK {
		overallStatus = "degraded"
	}

	status := struct {
		Status            string  `json:"status"`
		Uptime            string  `json:"uptime"`
		DatabaseOK        bool    `json:"database_ok"`
		DatabaseLatencyMs float64 `json:"database_latency_ms"`
		BinanceStatus     string  `json:"binance_status"`
		ScannerOK         bool    `json:"scanner_ok"`
		TrackerOK         bool    `json:"tracker_ok"`
		LastCheckAt       string  `json:"last_check_at"`
	}{
		Status:            overallStatus,
		Uptime:            time.Since(h.StartedAt).Round(time.Second).String(),
		DatabaseOK:        h.DatabaseOK,
		DatabaseLatencyMs: h.DatabaseLatencyMs,
		BinanceStatus:     h.BinanceStatus,
		ScannerOK:         h.ScannerOK,
		TrackerOK:         h.TrackerOK,
		LastCheckAt:       h.LastCheckAt.Format(time.RFC3339),
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
