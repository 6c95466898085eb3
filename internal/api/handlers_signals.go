package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"trading-tools/internal/model"
	"trading-tools/internal/store"
	"trading-tools/internal/strategy"
)

func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol         string          `json:"symbol"`
		Interval       string          `json:"interval"`
		Strategy       string          `json:"strategy"`
		Params         json.RawMessage `json:"params"`
		StopCrossPct   *float64        `json:"stop_cross_pct"`
		Portfolio      *float64        `json:"portfolio"`
		InvestedAmount *float64        `json:"invested_amount"`
		Leverage       *float64        `json:"leverage"`
		CostBps        *float64        `json:"cost_bps"`
		PollingSeconds *int64          `json:"polling_interval_s"`
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
	if !strategy.Known(req.Strategy) {
		writeError(w, fmt.Errorf("%w: unknown strategy %q", model.ErrBadInput, req.Strategy))
		return
	}
	params, err := strategy.ParseParams(string(req.Params))
	if err != nil {
		writeError(w, err)
		return
	}

	cfg := &model.SignalConfig{
		Symbol:         strings.ToUpper(req.Symbol),
		Interval:       interval,
		Strategy:       req.Strategy,
		Params:         params.Canonical(),
		StopCrossPct:   0.02,
		Portfolio:      10_000,
		CostBps:        10,
		InvestedAmount: req.InvestedAmount,
		Leverage:       req.Leverage,
		PollingSeconds: req.PollingSeconds,
		Active:         true,
	}
	if req.StopCrossPct != nil {
		cfg.StopCrossPct = *req.StopCrossPct
	}
	if req.Portfolio != nil {
		cfg.Portfolio = *req.Portfolio
	}
	if req.CostBps != nil {
		cfg.CostBps = *req.CostBps
	}

	out, err := s.store.CreateConfig(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only")
	configs, err := s.store.ListConfigs(r.Context(), activeOnly == "true" || activeOnly == "1")
	if err != nil {
		writeError(w, err)
		return
	}
	if configs == nil {
		configs = []model.SignalConfig{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"configs": configs})
}

func (s *Server) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Active         *bool    `json:"active"`
		StopCrossPct   *float64 `json:"stop_cross_pct"`
		Portfolio      *float64 `json:"portfolio"`
		InvestedAmount *float64 `json:"invested_amount"`
		Leverage       *float64 `json:"leverage"`
		CostBps        *float64 `json:"cost_bps"`
		PollingSeconds *int64   `json:"polling_interval_s"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Active == nil && req.StopCrossPct == nil && req.Portfolio == nil &&
		req.InvestedAmount == nil && req.Leverage == nil && req.CostBps == nil &&
		req.PollingSeconds == nil {
		badRequest(w, "no fields to update")
		return
	}

	out, err := s.store.PatchConfig(r.Context(), id, store.ConfigPatch{
		Active:         req.Active,
		StopCrossPct:   req.StopCrossPct,
		Portfolio:      req.Portfolio,
		InvestedAmount: req.InvestedAmount,
		Leverage:       req.Leverage,
		CostBps:        req.CostBps,
		PollingSeconds: req.PollingSeconds,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteConfig(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "deleted"})
}

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	configID := queryInt64(r, "config_id")
	status := model.SignalStatus(r.URL.Query().Get("status"))
	limit := queryLimit(r, 50, 500)

	signals, err := s.store.ListSignals(r.Context(), configID, status, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if signals == nil {
		signals = []model.Signal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": signals})
}

func (s *Server) handleSignalsStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetSignal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sg, err := s.store.GetSignal(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sg)
}

func (s *Server) handleListSimTrades(w http.ResponseWriter, r *http.Request) {
	configID := queryInt64(r, "config_id")
	status := model.TradeStatus(r.URL.Query().Get("status"))
	limit := queryLimit(r, 50, 500)

	trades, err := s.store.ListTrades(r.Context(), configID, status, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if trades == nil {
		trades = []model.SimTrade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sim_trades": trades})
}

func (s *Server) handleGetSimTrade(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tr, err := s.store.GetTrade(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

// handleCloseSimTrade closes an open trade at the live ticker price, with
// the same fee and pnl arithmetic the tracker applies.
func (s *Server) handleCloseSimTrade(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tr, err := s.store.GetTrade(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if tr.Status != model.TradeOpen {
		writeError(w, fmt.Errorf("trade %d is %s, not open: %w", id, tr.Status, model.ErrConflict))
		return
	}
	if s.client == nil {
		writeError(w, fmt.Errorf("%w: no market data client configured", model.ErrUpstreamUnavailable))
		return
	}

	price, err := s.client.GetTickerPrice(r.Context(), tr.Symbol)
	if err != nil {
		writeError(w, fmt.Errorf("ticker %s: %w", tr.Symbol, model.ErrUpstreamUnavailable))
		return
	}

	costBps := 0.0
	if cfg, err := s.store.GetConfig(r.Context(), tr.ConfigID); err == nil {
		costBps = cfg.CostBps
	}

	var qty, entry float64
	if tr.Quantity != nil {
		qty = *tr.Quantity
	}
	if tr.EntryPrice != nil {
		entry = *tr.EntryPrice
	}

	gross := model.GrossPnl(tr.Side, qty, entry, price)
	exitFee := math.Abs(qty*price) * costBps / 10_000
	net := gross - exitFee
	totalFees := tr.Fees + exitFee
	pnlPct := 0.0
	if tr.Portfolio > 0 {
		pnlPct = net / tr.Portfolio
	}

	exitTime := time.Now().UTC().UnixMilli()
	if err := s.store.CloseTrade(r.Context(), id, price, exitTime,
		model.ExitReasonManual, totalFees, net, pnlPct); err != nil {
		writeError(w, err)
		return
	}

	if s.hub != nil {
		if fresh, err := s.store.GetTrade(r.Context(), id); err == nil {
			s.hub.Publish("trade_closed", fresh)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         id,
		"status":     "closed",
		"exit_price": price,
		"pnl":        net,
		"pnl_pct":    pnlPct,
	})
}

func (s *Server) handleCreateRealTrade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SimTradeID *int64  `json:"sim_trade_id"`
		SignalID   *int64  `json:"signal_id"`
		Symbol     string  `json:"symbol"`
		Side       string  `json:"side"`
		EntryPrice float64 `json:"entry_price"`
		EntryTime  string  `json:"entry_time"`
		Quantity   float64 `json:"quantity"`
		Fees       float64 `json:"fees"`
		Notes      *string `json:"notes"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Symbol == "" {
		badRequest(w, "symbol is required")
		return
	}
	side := model.Side(req.Side)
	if side != model.SideLong && side != model.SideShort {
		writeError(w, fmt.Errorf("%w: side must be long or short", model.ErrBadInput))
		return
	}
	if req.EntryPrice <= 0 || req.Quantity <= 0 {
		writeError(w, fmt.Errorf("%w: entry_price and quantity must be positive", model.ErrBadInput))
		return
	}
	if req.EntryTime == "" {
		req.EntryTime = model.NowISO()
	}

	out, err := s.store.CreateRealTrade(r.Context(), &model.RealTrade{
		SimTradeID: req.SimTradeID,
		SignalID:   req.SignalID,
		Symbol:     strings.ToUpper(req.Symbol),
		Side:       side,
		EntryPrice: req.EntryPrice,
		EntryTime:  req.EntryTime,
		Quantity:   req.Quantity,
		Fees:       req.Fees,
		Notes:      req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleListRealTrades(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	simTradeID := queryInt64(r, "sim_trade_id")
	limit := queryLimit(r, 50, 500)

	trades, err := s.store.ListRealTrades(r.Context(), symbol, simTradeID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if trades == nil {
		trades = []model.RealTrade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"real_trades": trades})
}

func (s *Server) handleCloseRealTrade(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		ExitPrice float64 `json:"exit_price"`
		ExitTime  string  `json:"exit_time"`
		Fees      float64 `json:"fees"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ExitPrice <= 0 {
		writeError(w, fmt.Errorf("%w: exit_price must be positive", model.ErrBadInput))
		return
	}
	if req.ExitTime == "" {
		req.ExitTime = model.NowISO()
	}

	out, err := s.store.CloseRealTrade(r.Context(), id, req.ExitPrice, req.ExitTime, req.Fees)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteRealTrade(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteRealTrade(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "deleted"})
}

type comparisonRow struct {
	RealTrade     model.RealTrade `json:"real_trade"`
	EntrySlippage *float64        `json:"entry_slippage"`
	ExitSlippage  *float64        `json:"exit_slippage"`
	PnlDiff       *float64        `json:"pnl_diff"`
}

// handleComparison reports slippage and pnl deltas between a sim trade and
// the real trades linked to it.
func (s *Server) handleComparison(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tr, err := s.store.GetTrade(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	reals, err := s.store.ListRealTrades(r.Context(), "", id, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	comparisons := make([]comparisonRow, 0, len(reals))
	for _, real := range reals {
		row := comparisonRow{RealTrade: real}
		if tr.EntryPrice != nil {
			v := roundTo(real.EntryPrice-*tr.EntryPrice, 6)
			row.EntrySlippage = &v
		}
		if real.ExitPrice != nil && tr.ExitPrice != nil {
			v := roundTo(*real.ExitPrice-*tr.ExitPrice, 6)
			row.ExitSlippage = &v
		}
		if real.Pnl != nil && tr.Pnl != nil {
			v := roundTo(*real.Pnl-*tr.Pnl, 4)
			row.PnlDiff = &v
		}
		comparisons = append(comparisons, row)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sim_trade":   tr,
		"comparisons": comparisons,
	})
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
