package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"trading-tools/internal/backtest"
	"trading-tools/internal/model"
	"trading-tools/internal/strategy"
)

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"strategies": strategy.List()})
}

func (s *Server) handleStartBacktest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol         string          `json:"symbol"`
		Interval       string          `json:"interval"`
		StartTime      int64           `json:"start_time"`
		EndTime        int64           `json:"end_time"`
		Strategy       string          `json:"strategy"`
		Params         json.RawMessage `json:"params"`
		InitialCapital float64         `json:"initial_capital"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Symbol == "" {
		badRequest(w, "symbol is required")
		return
	}
	interval := model.Interval(req.Interval)
	if !interval.Valid() {
		writeError(w, fmt.Errorf("%w: %q", model.ErrBadInterval, interval))
		return
	}
	if req.EndTime <= req.StartTime {
		badRequest(w, "end_time must be after start_time")
		return
	}
	if !strategy.Known(req.Strategy) {
		writeError(w, fmt.Errorf("%w: unknown strategy %q", model.ErrBadInput, req.Strategy))
		return
	}
	params, err := strategy.ParseParams(string(req.Params))
	if err != nil {
		writeError(w, err)
		return
	}

	// The run outlives this request; poll GET /api/backtest/{id}.
	entry := s.backtests.Launch(context.Background(), s.runner, backtest.Request{
		Symbol:         strings.ToUpper(req.Symbol),
		Interval:       interval,
		StartMs:        req.StartTime,
		EndMs:          req.EndTime,
		Strategy:       req.Strategy,
		Params:         params.Canonical(),
		InitialCapital: req.InitialCapital,
	})
	writeJSON(w, http.StatusAccepted, map[string]any{"id": entry.ID, "status": entry.Status})
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	entry, err := s.backtests.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleExportBacktest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, err := s.backtests.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if entry.Status == backtest.StatusRunning || entry.Result == nil {
		writeError(w, fmt.Errorf("backtest %s is %s: %w", id, entry.Status, model.ErrConflict))
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	switch format {
	case "json":
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=backtest_%s.json", id))
		writeJSON(w, http.StatusOK, entry)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=backtest_%s.csv", id))

		cw := csv.NewWriter(w)
		cw.Write([]string{"entry_time", "exit_time", "side", "entry_price",
			"exit_price", "pnl", "fees", "exit_reason", "duration_candles"})
		for _, t := range entry.Result.TradeLog {
			cw.Write([]string{
				strconv.FormatInt(t.EntryTime, 10),
				strconv.FormatInt(t.ExitTime, 10),
				t.Side,
				strconv.FormatFloat(t.EntryPrice, 'f', -1, 64),
				strconv.FormatFloat(t.ExitPrice, 'f', -1, 64),
				strconv.FormatFloat(t.Pnl, 'f', -1, 64),
				strconv.FormatFloat(t.Fees, 'f', -1, 64),
				t.ExitReason,
				strconv.Itoa(t.DurationCandles),
			})
		}
		cw.Flush()
	default:
		badRequest(w, "format must be json or csv")
	}
}
