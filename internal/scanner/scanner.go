// Package scanner evaluates active signal configs against the latest
// closed candle and emits entry signals with their simulated trades.
package scanner

import (
	"context"
	"log"
	"time"

	"trading-tools/internal/metrics"
	"trading-tools/internal/model"
	"trading-tools/internal/notification"
	"trading-tools/internal/store"
	"trading-tools/internal/strategy"
)

const (
	// ScanPeriod is the loop cadence.
	ScanPeriod = 15 * time.Second

	// WarmupCandles is the minimum lookback loaded for strategy init.
	WarmupCandles = 600

	// MinHistory guarantees at least a calendar year of data regardless of
	// interval, so long-window indicators stay meaningful on small steps.
	MinHistory = 365 * 24 * time.Hour

	defaultScanOffset = 30 * time.Second
)

// scanOffset is the grace period after a candle's theoretical close before
// the scanner trusts it to exist upstream and in the store.
var scanOffset = map[model.Interval]time.Duration{
	model.Interval1h: 30 * time.Second,
	model.Interval4h: 30 * time.Second,
	model.Interval1d: time.Minute,
	model.Interval3d: time.Minute,
	model.Interval1w: 2 * time.Minute,
	model.Interval1M: 2 * time.Minute,
}

func offsetFor(i model.Interval) time.Duration {
	if d, ok := scanOffset[i]; ok {
		return d
	}
	return defaultScanOffset
}

// Ensurer guarantees candle completeness for a window. Satisfied by
// download.Engine.
type Ensurer interface {
	Ensure(ctx context.Context, symbol string, interval model.Interval, start, end int64) (bool, error)
}

// EventPublisher pushes engine events to stream subscribers. Satisfied by
// api.Hub.
type EventPublisher interface {
	Publish(event string, payload any)
}

// Scanner is the single cooperative scan loop.
type Scanner struct {
	store    *store.Store
	ensurer  Ensurer
	notifier notification.Notifier
	events   EventPublisher
	metrics  *metrics.Metrics

	now func() time.Time
}

// New builds a scanner. notifier, events and m may be nil.
func New(st *store.Store, ensurer Ensurer, notifier notification.Notifier, events EventPublisher, m *metrics.Metrics) *Scanner {
	return &Scanner{
		store:    st,
		ensurer:  ensurer,
		notifier: notifier,
		events:   events,
		metrics:  m,
		now:      time.Now,
	}
}

// Run loops until the context is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	log.Printf("[scanner] started, period %s", ScanPeriod)
	ticker := time.NewTicker(ScanPeriod)
	defer ticker.Stop()

	for {
		s.ScanOnce(ctx)
		select {
		case <-ctx.Done():
			log.Printf("[scanner] stopped")
			return
		case <-ticker.C:
		}
	}
}

// ScanOnce runs one full pass over the active configs. Per-config errors
// are logged and do not stop the pass.
func (s *Scanner) ScanOnce(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.ScanCycles.Inc()
	}

	configs, err := s.store.ListConfigs(ctx, true)
	if err != nil {
		log.Printf("[scanner] list configs: %v", err)
		return
	}
	for i := range configs {
		if ctx.Err() != nil {
			return
		}
		if err := s.scanConfig(ctx, &configs[i]); err != nil {
			log.Printf("[scanner] config %d: %v", configs[i].ID, err)
		}
	}
}

func (s *Scanner) skip(reason string) {
	if s.metrics != nil {
		s.metrics.ScanSkips.WithLabelValues(reason).Inc()
	}
}

// scanConfig evaluates one config against its latest closed candle:
// ensure the warm-up window, init the strategy over it, run on_candle with
// a flat state, persist the first entry, and advance the watermark.
func (s *Scanner) scanConfig(ctx context.Context, cfg *model.SignalConfig) error {
	step, err := cfg.Interval.StepMs()
	if err != nil {
		return err
	}

	nowMs := s.now().Add(-offsetFor(cfg.Interval)).UnixMilli()
	target, err := cfg.Interval.LastClosedOpenTime(nowMs)
	if err != nil {
		return err
	}
	if target <= cfg.LastProcessedCandle {
		return nil
	}

	// At least 600 candles of warm-up OR one calendar year, whichever
	// reaches further back.
	start := target - WarmupCandles*step
	if historyStart := target - MinHistory.Milliseconds(); historyStart < start {
		start = historyStart
	}
	if start < 0 {
		start = 0
	}
	end := target + step

	ready, err := s.ensurer.Ensure(ctx, cfg.Symbol, cfg.Interval, start, end)
	if err != nil {
		return err
	}
	if !ready {
		log.Printf("[scanner] %s %s: data sync in progress, skipping cycle", cfg.Symbol, cfg.Interval)
		s.skip("not_ready")
		return nil
	}

	f, err := s.store.LoadFrame(ctx, cfg.Symbol, cfg.Interval, start, target, 0)
	if err != nil {
		return err
	}
	if f.Len() < 2 {
		s.skip("insufficient_data")
		return nil
	}
	last := f.Len() - 1
	if f.OpenTime[last] != target {
		log.Printf("[scanner] %s %s: last stored candle %d != target %d, skipping",
			cfg.Symbol, cfg.Interval, f.OpenTime[last], target)
		s.skip("stale_frame")
		return nil
	}

	strat, err := strategy.New(cfg.Strategy)
	if err != nil {
		return err
	}
	params, err := strategy.ParseParams(cfg.Params)
	if err != nil {
		return err
	}
	if err := strat.Init(params, f); err != nil {
		return err
	}

	// Always flat: the scanner looks for entries only, the tracker owns
	// everything that happens after.
	signals := strat.OnCandle(last, f.Row(last), strategy.Flat())
	for _, sig := range signals {
		if !sig.Action.IsEntry() {
			continue
		}
		side := model.SideLong
		if sig.Action == strategy.ActionEntryShort {
			side = model.SideShort
		}
		if err := s.emit(ctx, cfg, side, target, sig.StopPrice); err != nil {
			return err
		}
		break // one entry per cycle
	}

	return s.store.AdvanceWatermark(ctx, cfg.ID, target)
}

func (s *Scanner) emit(ctx context.Context, cfg *model.SignalConfig, side model.Side, triggerTime int64, stopPrice float64) error {
	invested, leverage := cfg.ResolveSizing()

	sg := &model.Signal{
		ConfigID:          cfg.ID,
		Symbol:            cfg.Symbol,
		Interval:          cfg.Interval,
		Strategy:          cfg.Strategy,
		Side:              side,
		TriggerCandleTime: triggerTime,
		StopPrice:         stopPrice,
		StopTriggerPrice:  model.StopTrigger(side, stopPrice, cfg.StopCrossPct),
	}

	created, trade, isNew, err := s.store.EmitSignal(ctx, sg, invested, leverage, cfg.Portfolio)
	if err != nil {
		return err
	}
	if !isNew {
		return nil
	}

	log.Printf("[scanner] signal %d: config=%d %s %s candle=%d stop=%.6f trigger=%.6f",
		created.ID, cfg.ID, side, cfg.Symbol, triggerTime, stopPrice, created.StopTriggerPrice)
	if s.metrics != nil {
		s.metrics.SignalsEmitted.WithLabelValues(string(side)).Inc()
	}
	if s.events != nil {
		s.events.Publish("signal_created", created)
		s.events.Publish("sim_trade_created", trade)
	}
	if s.notifier != nil {
		won, err := s.store.RecordNotification(ctx, notification.EventSignalCreated, "signal", created.ID,
			string(side)+" "+cfg.Symbol)
		if err == nil && won {
			if err := s.notifier.Send(ctx, notification.SignalAlert(created)); err != nil {
				log.Printf("[scanner] signal %d notification: %v", created.ID, err)
			}
		}
	}
	return nil
}
