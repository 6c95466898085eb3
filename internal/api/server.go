// Package api is the HTTP surface: CRUD over signal configs, read-through
// over signals and trades, download job control, backtests, and the /ws
// event stream.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"trading-tools/internal/backtest"
	"trading-tools/internal/binance"
	"trading-tools/internal/derived"
	"trading-tools/internal/download"
	"trading-tools/internal/model"
	"trading-tools/internal/store"
)

// Server wires the engines behind the HTTP routes.
type Server struct {
	mux *http.ServeMux

	store     *store.Store
	client    *binance.Client
	downloads *download.Engine
	derived   *derived.Engine
	runner    *backtest.Runner
	backtests *backtest.Registry
	hub       *Hub

	started time.Time
}

// NewServer builds the server and registers all routes. client may be nil
// in offline setups; endpoints needing it return 502.
func NewServer(st *store.Store, client *binance.Client, dl *download.Engine, de *derived.Engine, runner *backtest.Runner, reg *backtest.Registry, hub *Hub) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		store:     st,
		client:    client,
		downloads: dl,
		derived:   de,
		runner:    runner,
		backtests: reg,
		hub:       hub,
		started:   time.Now(),
	}
	s.routes()
	return s
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return withCORS(s.mux)
}

func (s *Server) routes() {
	if s.hub != nil {
		s.mux.HandleFunc("GET /ws", s.hub.HandleWS)
	}

	// Data
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/pairs", s.handleListPairs)
	s.mux.HandleFunc("GET /api/candles", s.handleGetCandles)
	s.mux.HandleFunc("GET /api/coverage", s.handleCoverage)
	s.mux.HandleFunc("GET /api/rate-limit", s.handleRateLimit)
	s.mux.HandleFunc("POST /api/download", s.handleStartDownload)
	s.mux.HandleFunc("GET /api/download/{id}", s.handleGetDownload)
	s.mux.HandleFunc("POST /api/download/{id}/cancel", s.handleCancelDownload)
	s.mux.HandleFunc("POST /api/metrics/compute", s.handleComputeMetrics)
	s.mux.HandleFunc("GET /api/metrics/status", s.handleMetricsStatus)

	// Signal configs, signals, trades
	s.mux.HandleFunc("POST /api/signals/configs", s.handleCreateConfig)
	s.mux.HandleFunc("GET /api/signals/configs", s.handleListConfigs)
	s.mux.HandleFunc("PATCH /api/signals/configs/{id}", s.handlePatchConfig)
	s.mux.HandleFunc("DELETE /api/signals/configs/{id}", s.handleDeleteConfig)
	s.mux.HandleFunc("GET /api/signals", s.handleListSignals)
	s.mux.HandleFunc("GET /api/signals/status", s.handleSignalsStatus)
	s.mux.HandleFunc("GET /api/signals/{id}", s.handleGetSignal)
	s.mux.HandleFunc("GET /api/sim-trades", s.handleListSimTrades)
	s.mux.HandleFunc("GET /api/sim-trades/{id}", s.handleGetSimTrade)
	s.mux.HandleFunc("POST /api/sim-trades/{id}/close", s.handleCloseSimTrade)
	s.mux.HandleFunc("POST /api/real-trades", s.handleCreateRealTrade)
	s.mux.HandleFunc("GET /api/real-trades", s.handleListRealTrades)
	s.mux.HandleFunc("POST /api/real-trades/{id}/close", s.handleCloseRealTrade)
	s.mux.HandleFunc("DELETE /api/real-trades/{id}", s.handleDeleteRealTrade)
	s.mux.HandleFunc("GET /api/comparison/{id}", s.handleComparison)

	// Backtests
	s.mux.HandleFunc("GET /api/strategies", s.handleListStrategies)
	s.mux.HandleFunc("POST /api/backtest", s.handleStartBacktest)
	s.mux.HandleFunc("GET /api/backtest/{id}", s.handleGetBacktest)
	s.mux.HandleFunc("GET /api/backtest/{id}/export", s.handleExportBacktest)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

// writeError maps the sentinel errors onto status codes with a structured
// body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, model.ErrBadInterval), errors.Is(err, model.ErrBadInput),
		errors.Is(err, model.ErrDataUnavailable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrUpstreamUnavailable):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		log.Printf("[api] internal error: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid id")
		return 0, false
	}
	return id, true
}

func queryInt64(r *http.Request, key string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return v
}

func queryLimit(r *http.Request, def, max int) int {
	limit := def
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > max {
		limit = max
	}
	return limit
}
