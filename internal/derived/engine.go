// Package derived computes per-candle indicator series (returns, ranges,
// moving averages, volatility, ATR, Donchian channels) and persists them to
// the derived metric store keyed by (symbol, interval, open_time, metric).
package derived

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"trading-tools/internal/frame"
	"trading-tools/internal/metrics"
	"trading-tools/internal/model"
	"trading-tools/internal/store"
)

// MetricNames lists every computable metric in a stable order.
func MetricNames() []string {
	names := []string{"returns_log", "returns_simple", "range", "true_range"}
	for _, n := range []int{20, 50, 200} {
		names = append(names, fmt.Sprintf("sma_%d", n))
	}
	for _, n := range []int{20, 50, 200} {
		names = append(names, fmt.Sprintf("ema_%d", n))
	}
	for _, n := range []int{20, 50} {
		names = append(names, fmt.Sprintf("volatility_%d", n))
	}
	for _, n := range []int{14, 20} {
		names = append(names, fmt.Sprintf("atr_%d", n))
	}
	for _, n := range []int{20, 50} {
		names = append(names,
			fmt.Sprintf("rolling_max_%d", n), fmt.Sprintf("rolling_min_%d", n),
			fmt.Sprintf("donchian_upper_%d", n), fmt.Sprintf("donchian_lower_%d", n))
	}
	return names
}

// Compute calculates the selected metric series over a frame. An empty
// selection means all. Unknown names in the selection are ignored.
func Compute(f *frame.Frame, selected []string) map[string][]float64 {
	if f.Len() == 0 {
		return map[string][]float64{}
	}

	want := func(name string) bool {
		if len(selected) == 0 {
			return true
		}
		for _, s := range selected {
			if s == name {
				return true
			}
		}
		return false
	}

	n := f.Len()
	out := make(map[string][]float64)

	logRet := make([]float64, n)
	simpleRet := make([]float64, n)
	trueRange := make([]float64, n)
	logRet[0], simpleRet[0], trueRange[0] = frame.NaN, frame.NaN, f.High[0]-f.Low[0]
	for t := 1; t < n; t++ {
		prev := f.Close[t-1]
		logRet[t] = math.Log(f.Close[t] / prev)
		simpleRet[t] = f.Close[t]/prev - 1
		tr := f.High[t] - f.Low[t]
		if d := math.Abs(f.High[t] - prev); d > tr {
			tr = d
		}
		if d := math.Abs(f.Low[t] - prev); d > tr {
			tr = d
		}
		trueRange[t] = tr
	}

	if want("returns_log") {
		out["returns_log"] = logRet
	}
	if want("returns_simple") {
		out["returns_simple"] = simpleRet
	}
	if want("range") {
		rng := make([]float64, n)
		for t := range rng {
			rng[t] = f.High[t] - f.Low[t]
		}
		out["range"] = rng
	}
	if want("true_range") {
		out["true_range"] = trueRange
	}

	for _, w := range []int{20, 50, 200} {
		if name := fmt.Sprintf("sma_%d", w); want(name) {
			out[name] = frame.RollingMean(f.Close, w)
		}
		if name := fmt.Sprintf("ema_%d", w); want(name) {
			out[name] = frame.EMA(f.Close, w)
		}
	}
	for _, w := range []int{20, 50} {
		if name := fmt.Sprintf("volatility_%d", w); want(name) {
			out[name] = frame.RollingStd(logRet, w)
		}
	}
	for _, w := range []int{14, 20} {
		if name := fmt.Sprintf("atr_%d", w); want(name) {
			out[name] = frame.RollingMean(trueRange, w)
		}
	}
	for _, w := range []int{20, 50} {
		var maxHigh, minLow []float64
		need := func(s string) bool { return want(fmt.Sprintf(s, w)) }
		if need("rolling_max_%d") || need("donchian_upper_%d") {
			maxHigh = frame.RollingMax(f.High, w)
		}
		if need("rolling_min_%d") || need("donchian_lower_%d") {
			minLow = frame.RollingMin(f.Low, w)
		}
		if need("rolling_max_%d") {
			out[fmt.Sprintf("rolling_max_%d", w)] = maxHigh
		}
		if need("rolling_min_%d") {
			out[fmt.Sprintf("rolling_min_%d", w)] = minLow
		}
		if need("donchian_upper_%d") {
			out[fmt.Sprintf("donchian_upper_%d", w)] = maxHigh
		}
		if need("donchian_lower_%d") {
			out[fmt.Sprintf("donchian_lower_%d", w)] = minLow
		}
	}
	return out
}

// Engine computes and persists derived metrics.
type Engine struct {
	store   *store.Store
	metrics *metrics.Metrics
}

// New builds an engine; m may be nil.
func New(st *store.Store, m *metrics.Metrics) *Engine {
	return &Engine{store: st, metrics: m}
}

// Result summarizes one ComputeAndStore run.
type Result struct {
	Status          string `json:"status"`
	MetricsComputed int    `json:"metrics_computed"`
	Rows            int    `json:"rows"`
}

// ComputeAndStore loads candles, computes the selected metrics and upserts
// each series. Zero start/end means the full stored history.
func (e *Engine) ComputeAndStore(ctx context.Context, symbol string, interval model.Interval, selected []string, start, end int64) (*Result, error) {
	if !interval.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrBadInterval, interval)
	}

	began := time.Now()
	f, err := e.store.LoadFrame(ctx, symbol, interval, start, end, 0)
	if err != nil {
		return nil, err
	}
	if f.Len() == 0 {
		return &Result{Status: "no_data"}, nil
	}

	computed := Compute(f, selected)
	total := 0
	for name, series := range computed {
		n, err := e.store.UpsertMetric(ctx, symbol, interval, name, f.OpenTime, series)
		if err != nil {
			return nil, fmt.Errorf("store metric %s: %w", name, err)
		}
		total += n
	}

	if e.metrics != nil {
		e.metrics.MetricRowsWritten.Add(float64(total))
		e.metrics.MetricComputeDur.Observe(time.Since(began).Seconds())
	}
	log.Printf("[derived] %s %s: %d metrics, %d rows in %s",
		symbol, interval, len(computed), total, time.Since(began).Round(time.Millisecond))
	return &Result{Status: "ok", MetricsComputed: len(computed), Rows: total}, nil
}
