package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"trading-tools/internal/derived"
	"trading-tools/internal/model"
	"trading-tools/internal/store"
)

// knownPairs seeds the pair dropdown even before anything is downloaded.
var knownPairs = []string{
	"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT",
	"ADAUSDT", "DOGEUSDT", "AVAXUSDT", "DOTUSDT", "LINKUSDT",
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	status := "ok"
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		dbStatus = "error: " + err.Error()
		status = "degraded"
	}

	resp := map[string]any{
		"status":   status,
		"database": dbStatus,
		"uptime_s": int64(time.Since(s.started).Seconds()),
	}
	if s.hub != nil {
		resp["ws_clients"] = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListPairs(w http.ResponseWriter, r *http.Request) {
	stored, err := s.store.ListSymbols(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	seen := make(map[string]struct{}, len(knownPairs)+len(stored))
	for _, p := range knownPairs {
		seen[p] = struct{}{}
	}
	for _, p := range stored {
		seen[p] = struct{}{}
	}
	merged := make([]string, 0, len(seen))
	for p := range seen {
		merged = append(merged, p)
	}
	sort.Strings(merged)
	writeJSON(w, http.StatusOK, map[string]any{"pairs": merged})
}

func (s *Server) handleGetCandles(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	if symbol == "" {
		badRequest(w, "symbol is required")
		return
	}
	interval := model.Interval(r.URL.Query().Get("interval"))
	if !interval.Valid() {
		writeError(w, fmt.Errorf("%w: %q", model.ErrBadInterval, interval))
		return
	}
	start := queryInt64(r, "start_time")
	end := queryInt64(r, "end_time")
	limit := queryLimit(r, 1000, 10000)

	candles, err := s.store.ListCandles(r.Context(), symbol, interval, start, end, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if candles == nil {
		candles = []model.Candle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":   symbol,
		"interval": interval,
		"count":    len(candles),
		"candles":  candles,
	})
}

func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	ivStr := r.URL.Query().Get("interval")

	if symbol != "" && ivStr != "" {
		interval := model.Interval(ivStr)
		if !interval.Valid() {
			writeError(w, fmt.Errorf("%w: %q", model.ErrBadInterval, interval))
			return
		}
		ranges, err := s.store.Coverage(r.Context(), symbol, interval)
		if err != nil {
			writeError(w, err)
			return
		}
		if ranges == nil {
			ranges = []store.CoverageRange{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"symbol": symbol, "interval": interval, "ranges": ranges,
		})
		return
	}

	rows, err := s.store.CoverageSummary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []store.CoverageSummaryRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"coverage": rows})
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	if s.client == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      s.client.Status(),
		"used_weight": s.client.UsedWeight(),
		"usage_ratio": s.client.UsageRatio(),
	})
}

func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol    string `json:"symbol"`
		Interval  string `json:"interval"`
		StartTime int64  `json:"start_time"`
		EndTime   int64  `json:"end_time"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	job, err := s.downloads.CreateJob(r.Context(),
		strings.ToUpper(req.Symbol), model.Interval(req.Interval), req.StartTime, req.EndTime)
	if err != nil {
		writeError(w, err)
		return
	}

	// The job outlives this request.
	s.downloads.StartJob(context.Background(), job.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID, "status": "started"})
}

func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.CancelJob(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "cancelled"})
}

func (s *Server) handleComputeMetrics(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol    string   `json:"symbol"`
		Interval  string   `json:"interval"`
		Metrics   []string `json:"metrics"`
		StartTime int64    `json:"start_time"`
		EndTime   int64    `json:"end_time"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Symbol == "" {
		badRequest(w, "symbol is required")
		return
	}

	res, err := s.derived.ComputeAndStore(r.Context(),
		strings.ToUpper(req.Symbol), model.Interval(req.Interval), req.Metrics, req.StartTime, req.EndTime)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMetricsStatus(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	if symbol == "" {
		badRequest(w, "symbol is required")
		return
	}
	interval := model.Interval(r.URL.Query().Get("interval"))
	if !interval.Valid() {
		writeError(w, fmt.Errorf("%w: %q", model.ErrBadInterval, interval))
		return
	}

	rows, err := s.store.MetricsStatus(r.Context(), symbol, interval)
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []store.MetricStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":    symbol,
		"interval":  interval,
		"metrics":   rows,
		"available": derived.MetricNames(),
	})
}
