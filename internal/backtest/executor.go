// Package backtest replays a strategy over stored candles: a deterministic
// single-pass walk driving the same OnCandle contract the live engines use.
package backtest

import (
	"context"
	"fmt"
	"log"
	"time"

	"trading-tools/internal/frame"
	"trading-tools/internal/metrics"
	"trading-tools/internal/model"
	"trading-tools/internal/store"
	"trading-tools/internal/strategy"
)

// DefaultInitialCapital applies when the request leaves capital unset.
const DefaultInitialCapital = 10_000.0

// Request describes one backtest run.
type Request struct {
	Symbol         string         `json:"symbol"`
	Interval       model.Interval `json:"interval"`
	StartMs        int64          `json:"start_ms"`
	EndMs          int64          `json:"end_ms"`
	Strategy       string         `json:"strategy"`
	Params         string         `json:"params"`
	InitialCapital float64        `json:"initial_capital"`
}

// TradeLogEntry is one completed round-trip in the walk.
type TradeLogEntry struct {
	EntryTime       int64   `json:"entry_time"`
	ExitTime        int64   `json:"exit_time"`
	Side            string  `json:"side"`
	EntryPrice      float64 `json:"entry_price"`
	ExitPrice       float64 `json:"exit_price"`
	Pnl             float64 `json:"pnl"`
	Fees            float64 `json:"fees"`
	ExitReason      string  `json:"exit_reason"`
	DurationCandles int     `json:"duration_candles"`
}

// Result is the full backtest payload. Error is set instead of a hard
// failure when the data or strategy cannot produce a run.
type Result struct {
	EquityCurve []float64       `json:"equity_curve"`
	TradeLog    []TradeLogEntry `json:"trade_log"`
	Summary     *Summary        `json:"summary,omitempty"`
	Liquidated  bool            `json:"liquidated"`
	Error       string          `json:"error,omitempty"`
}

// Runner loads candles and executes backtests.
type Runner struct {
	store   *store.Store
	metrics *metrics.Metrics
}

// NewRunner builds a runner. m may be nil.
func NewRunner(st *store.Store, m *metrics.Metrics) *Runner {
	return &Runner{store: st, metrics: m}
}

// Run executes one backtest. Data and strategy problems come back in
// Result.Error; only store failures surface as a Go error.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	if req.InitialCapital <= 0 {
		req.InitialCapital = DefaultInitialCapital
	}
	step, err := req.Interval.StepMs()
	if err != nil {
		return &Result{Error: err.Error()}, nil
	}

	f, err := r.store.LoadFrame(ctx, req.Symbol, req.Interval, req.StartMs, req.EndMs, 0)
	if err != nil {
		return nil, err
	}
	if f.Len() < 2 {
		return &Result{Error: "insufficient candle data for backtest"}, nil
	}

	strat, err := strategy.New(req.Strategy)
	if err != nil {
		return &Result{Error: err.Error()}, nil
	}
	params, err := strategy.ParseParams(req.Params)
	if err != nil {
		return &Result{Error: err.Error()}, nil
	}
	if err := strat.Init(params, f); err != nil {
		return &Result{Error: fmt.Sprintf("strategy init failed: %v", err)}, nil
	}

	res := execute(f, strat, params, req.InitialCapital)
	res.Summary = computeSummary(res.EquityCurve, res.TradeLog, req.InitialCapital, step)

	if r.metrics != nil {
		r.metrics.BacktestsRun.Inc()
		r.metrics.BacktestDur.Observe(time.Since(started).Seconds())
	}
	log.Printf("[backtest] %s %s %s: %d candles, %d trades, liquidated=%v",
		req.Symbol, req.Interval, req.Strategy, f.Len(), len(res.TradeLog), res.Liquidated)
	return res, nil
}

// execute is the deterministic walk. Per bar: fill the deferred entry at
// the open, collect signals, settle exits and stops before new entries,
// check for bankruptcy, then mark equity to market at the close.
func execute(f *frame.Frame, strat strategy.Strategy, params strategy.Params, initialCapital float64) *Result {
	mode := params.String("modo_ejecucion", "open_next")
	costFactor := params.Float("coste_total_bps", 10.0) / 10_000.0

	equity := initialCapital
	state := strategy.Flat()
	var pending *strategy.Signal

	res := &Result{
		EquityCurve: make([]float64, 0, f.Len()),
		TradeLog:    []TradeLogEntry{},
	}

	for t := 0; t < f.Len(); t++ {
		row := f.Row(t)

		if pending != nil && mode == "open_next" {
			sig := *pending
			pending = nil
			side := "long"
			if sig.Action == strategy.ActionEntryShort {
				side = "short"
			}
			fee := equity * costFactor
			state = strategy.PositionState{
				Side:       side,
				EntryPrice: row.Open,
				EntryTime:  row.OpenTime,
				StopPrice:  sig.StopPrice,
				Quantity:   equity / row.Open,
			}
			equity -= fee
		}

		signals := strat.OnCandle(t, row, state)

		exitExecuted := false
		for _, sig := range signals {
			if state.Side != "flat" && (sig.Action.IsStop() || sig.Action.IsExit()) {
				var exec float64
				switch {
				case sig.Action == strategy.ActionStopLong:
					// A gap open below the stop cannot fill at the stop.
					exec = sig.Price
					if row.Open < state.StopPrice && row.Open < exec {
						exec = row.Open
					}
				case sig.Action == strategy.ActionStopShort:
					exec = sig.Price
					if row.Open > state.StopPrice && row.Open > exec {
						exec = row.Open
					}
				case mode == "close_current":
					exec = row.Close
				default:
					exec = row.Open
				}

				gross := grossPnl(state, exec)
				fee := abs(state.Quantity*exec) * costFactor
				pnl := gross - fee
				equity += pnl

				dur := t - entryIndex(f, state.EntryTime)
				if dur < 0 {
					dur = 0
				}
				res.TradeLog = append(res.TradeLog, TradeLogEntry{
					EntryTime:       state.EntryTime,
					ExitTime:        row.OpenTime,
					Side:            state.Side,
					EntryPrice:      state.EntryPrice,
					ExitPrice:       exec,
					Pnl:             pnl,
					Fees:            fee,
					ExitReason:      string(sig.Action),
					DurationCandles: dur,
				})
				state = strategy.Flat()
				exitExecuted = true
				break
			}
		}

		if equity <= 0 {
			res.Liquidated = true
			return res
		}

		if !exitExecuted && state.Side == "flat" {
			for _, sig := range signals {
				if !sig.Action.IsEntry() {
					continue
				}
				if mode == "open_next" {
					s := sig
					pending = &s
				} else {
					side := "long"
					if sig.Action == strategy.ActionEntryShort {
						side = "short"
					}
					fee := equity * costFactor
					state = strategy.PositionState{
						Side:       side,
						EntryPrice: row.Close,
						EntryTime:  row.OpenTime,
						StopPrice:  sig.StopPrice,
						Quantity:   equity / row.Close,
					}
					equity -= fee
				}
				break
			}
		}

		// Mark-to-market at the close, one point per bar.
		mtm := equity
		switch state.Side {
		case "long":
			mtm = equity + state.Quantity*(row.Close-state.EntryPrice)
		case "short":
			mtm = equity + state.Quantity*(state.EntryPrice-row.Close)
		}
		res.EquityCurve = append(res.EquityCurve, mtm)
	}
	return res
}

func grossPnl(state strategy.PositionState, execPrice float64) float64 {
	if state.Side == "short" {
		return state.Quantity * (state.EntryPrice - execPrice)
	}
	return state.Quantity * (execPrice - state.EntryPrice)
}

func entryIndex(f *frame.Frame, entryTime int64) int {
	if i := f.IndexOf(entryTime); i >= 0 {
		return i
	}
	return 0
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
