// Package tracker follows live simulated trades: fills pending entries at
// the next candle open, polls the spot price for intrabar stops, and runs
// strategy exit checks once per closed candle.
package tracker

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"trading-tools/internal/metrics"
	"trading-tools/internal/model"
	"trading-tools/internal/notification"
	"trading-tools/internal/scanner"
	"trading-tools/internal/store"
	"trading-tools/internal/strategy"
)

// Default poll periods (seconds) per candle interval; overridable per
// config. Idle period applies when no live trades exist.
var defaultPollSeconds = map[model.Interval]int64{
	model.Interval1h:  60,
	model.Interval2h:  60,
	model.Interval4h:  120,
	model.Interval6h:  120,
	model.Interval8h:  180,
	model.Interval12h: 180,
	model.Interval1d:  300,
	model.Interval3d:  300,
	model.Interval1w:  600,
	model.Interval1M:  600,
}

const (
	fallbackPollSeconds = 120
	idlePollSeconds     = 30

	// entryGrace is how long past the expected entry candle open the
	// tracker waits for stored data before falling back to a live ticker.
	entryGrace = 5 * time.Second

	// warmupCandles matches the scanner's strategy warm-up window.
	warmupCandles = 600

	// softWeightRatio doubles the poll period when exceeded.
	softWeightRatio = 0.8
)

// PriceSource provides live prices and the current rate-limit pressure.
// Satisfied by binance.Client.
type PriceSource interface {
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)
	UsageRatio() float64
}

// Tracker is the single cooperative tracking loop.
type Tracker struct {
	store    *store.Store
	ensurer  scanner.Ensurer
	prices   PriceSource
	notifier notification.Notifier
	events   scanner.EventPublisher
	metrics  *metrics.Metrics

	now func() time.Time

	// lastCandleCheck holds, per interval, the open_time of the forming
	// candle as of the last exit check; pass (c) runs only on rollover.
	lastCandleCheck map[model.Interval]int64
}

// New builds a tracker. notifier, events and m may be nil.
func New(st *store.Store, ensurer scanner.Ensurer, prices PriceSource, notifier notification.Notifier, events scanner.EventPublisher, m *metrics.Metrics) *Tracker {
	return &Tracker{
		store:           st,
		ensurer:         ensurer,
		prices:          prices,
		notifier:        notifier,
		events:          events,
		metrics:         m,
		now:             time.Now,
		lastCandleCheck: make(map[model.Interval]int64),
	}
}

// Run loops until the context is cancelled, re-deriving the poll period
// from the live trade set after every pass.
func (t *Tracker) Run(ctx context.Context) {
	log.Printf("[tracker] started")
	for {
		t.RunOnce(ctx)

		period := t.pollPeriod(ctx)
		timer := time.NewTimer(period)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Printf("[tracker] stopped")
			return
		case <-timer.C:
		}
	}
}

// RunOnce executes the three passes in order. Each pass is idempotent:
// status-guarded writes make duplicate evaluation a no-op.
func (t *Tracker) RunOnce(ctx context.Context) {
	if t.metrics != nil {
		t.metrics.TrackerPasses.Inc()
	}

	if err := t.fillPendingEntries(ctx); err != nil {
		log.Printf("[tracker] pending entries: %v", err)
	}
	if err := t.checkIntrabarStops(ctx); err != nil {
		log.Printf("[tracker] intrabar stops: %v", err)
	}

	// Pass (c) only when some interval rolled over to a new candle.
	rolled := false
	nowMs := t.now().UnixMilli()
	for _, iv := range model.Intervals() {
		current, err := iv.CurrentOpenTime(nowMs)
		if err != nil {
			continue
		}
		if current > t.lastCandleCheck[iv] {
			t.lastCandleCheck[iv] = current
			rolled = true
		}
	}
	if rolled {
		if err := t.checkCandleCloseExits(ctx); err != nil {
			log.Printf("[tracker] candle-close exits: %v", err)
		}
	}
}

// pollPeriod is the minimum configured period among live trades, the idle
// period when none exist, doubled under rate-limit pressure.
func (t *Tracker) pollPeriod(ctx context.Context) time.Duration {
	keys, err := t.store.LivePollIntervals(ctx)
	if err != nil {
		log.Printf("[tracker] poll intervals: %v", err)
		return fallbackPollSeconds * time.Second
	}

	var poll int64
	if len(keys) == 0 {
		poll = idlePollSeconds
	} else {
		poll = int64(1<<62 - 1)
		for _, k := range keys {
			secs := int64(fallbackPollSeconds)
			if k.PollingSeconds != nil && *k.PollingSeconds > 0 {
				secs = *k.PollingSeconds
			} else if d, ok := defaultPollSeconds[k.Interval]; ok {
				secs = d
			}
			if secs < poll {
				poll = secs
			}
		}
	}

	if t.prices != nil && t.prices.UsageRatio() > softWeightRatio {
		poll *= 2
	}
	return time.Duration(poll) * time.Second
}

// fillPendingEntries fills pending_entry trades at the open of the candle
// following the trigger, or at a live ticker once the grace period after
// the expected open has passed.
func (t *Tracker) fillPendingEntries(ctx context.Context) error {
	pending, err := t.store.TradesByStatus(ctx, model.TradePendingEntry)
	if err != nil {
		return err
	}

	for i := range pending {
		tr := &pending[i]
		if err := t.fillOne(ctx, tr); err != nil {
			log.Printf("[tracker] fill trade %d: %v", tr.ID, err)
		}
	}
	return nil
}

func (t *Tracker) fillOne(ctx context.Context, tr *model.SimTrade) error {
	step, err := tr.Interval.StepMs()
	if err != nil {
		return err
	}
	sg, err := t.store.GetSignal(ctx, tr.SignalID)
	if err != nil {
		return err
	}
	nextOpen := sg.TriggerCandleTime + step

	// Kick a background sync for the entry window; the store check below
	// decides whether the data is there yet.
	if _, err := t.ensurer.Ensure(ctx, tr.Symbol, tr.Interval, sg.TriggerCandleTime, nextOpen+step); err != nil {
		return err
	}

	var entryPrice float64
	candle, err := t.store.GetCandle(ctx, tr.Symbol, tr.Interval, nextOpen)
	switch {
	case err == nil:
		entryPrice, err = strconv.ParseFloat(candle.Open, 64)
		if err != nil {
			return fmt.Errorf("candle open %q: %w", candle.Open, err)
		}
	case err == model.ErrNotFound:
		// Entry candle not stored yet: past the grace window, use the
		// live price as a proxy; otherwise wait for the next pass.
		if t.now().UnixMilli() < nextOpen+entryGrace.Milliseconds() {
			return nil
		}
		if t.prices == nil {
			return nil
		}
		entryPrice, err = t.prices.GetTickerPrice(ctx, tr.Symbol)
		if err != nil {
			return fmt.Errorf("ticker fallback: %w", err)
		}
	default:
		return err
	}

	cfg, err := t.store.GetConfig(ctx, tr.ConfigID)
	if err != nil {
		return err
	}

	fee := tr.InvestedAmount * cfg.CostBps / 10_000
	quantity := tr.InvestedAmount / entryPrice

	if err := t.store.FillEntry(ctx, tr.ID, entryPrice, nextOpen, quantity, fee); err != nil {
		if err == model.ErrConflict {
			return nil // someone else filled it
		}
		return err
	}

	log.Printf("[tracker] trade %d filled: %s %s entry=%.6f qty=%.6f",
		tr.ID, tr.Side, tr.Symbol, entryPrice, quantity)
	if t.metrics != nil {
		t.metrics.TradesOpened.Inc()
	}
	t.afterFill(ctx, tr.ID, notification.EventTradeOpened)
	return nil
}

// checkIntrabarStops polls one ticker per symbol with open trades and
// closes any trade whose stop trigger the spot price has crossed. The
// execution price is the trigger itself: it represents the stop limit, not
// the observed spot.
func (t *Tracker) checkIntrabarStops(ctx context.Context) error {
	open, err := t.store.TradesByStatus(ctx, model.TradeOpen)
	if err != nil {
		return err
	}
	if len(open) == 0 || t.prices == nil {
		return nil
	}

	prices := make(map[string]float64)
	for i := range open {
		sym := open[i].Symbol
		if _, done := prices[sym]; done {
			continue
		}
		p, err := t.prices.GetTickerPrice(ctx, sym)
		if err != nil {
			log.Printf("[tracker] ticker %s: %v", sym, err)
			continue
		}
		prices[sym] = p
	}

	nowMs := t.now().UnixMilli()
	for i := range open {
		tr := &open[i]
		price, ok := prices[tr.Symbol]
		if !ok {
			continue
		}

		triggered := (tr.Side == model.SideLong && price <= tr.StopTrigger) ||
			(tr.Side == model.SideShort && price >= tr.StopTrigger)
		if !triggered {
			continue
		}

		if err := t.closeTrade(ctx, tr, tr.StopTrigger, nowMs, model.ExitReasonStopIntrabar); err != nil {
			log.Printf("[tracker] stop trade %d: %v", tr.ID, err)
		}
	}
	return nil
}

// checkCandleCloseExits groups open trades by evaluation key and runs the
// strategy against the last closed candle with each trade's position state.
func (t *Tracker) checkCandleCloseExits(ctx context.Context) error {
	open, err := t.store.TradesByStatus(ctx, model.TradeOpen)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return nil
	}

	type groupKey struct {
		symbol   string
		interval model.Interval
		strategy string
		params   string
	}
	groups := make(map[groupKey][]*model.SimTrade)
	cfgs := make(map[int64]*model.SignalConfig)
	for i := range open {
		tr := &open[i]
		cfg, ok := cfgs[tr.ConfigID]
		if !ok {
			cfg, err = t.store.GetConfig(ctx, tr.ConfigID)
			if err != nil {
				log.Printf("[tracker] config %d: %v", tr.ConfigID, err)
				continue
			}
			cfgs[tr.ConfigID] = cfg
		}
		key := groupKey{tr.Symbol, tr.Interval, cfg.Strategy, cfg.Params}
		groups[key] = append(groups[key], tr)
	}

	nowMs := t.now().UnixMilli()
	for key, trades := range groups {
		if err := t.evalGroup(ctx, key.symbol, key.interval, key.strategy, key.params, trades, nowMs); err != nil {
			log.Printf("[tracker] exit check %s %s: %v", key.symbol, key.interval, err)
		}
	}
	return nil
}

func (t *Tracker) evalGroup(ctx context.Context, symbol string, interval model.Interval, strategyName, paramsJSON string, trades []*model.SimTrade, nowMs int64) error {
	step, err := interval.StepMs()
	if err != nil {
		return err
	}
	target, err := interval.LastClosedOpenTime(nowMs)
	if err != nil {
		return err
	}

	start := target - warmupCandles*step
	if start < 0 {
		start = 0
	}
	ready, err := t.ensurer.Ensure(ctx, symbol, interval, start, target+step)
	if err != nil {
		return err
	}
	if !ready {
		log.Printf("[tracker] %s %s: data sync in progress, skipping exit check", symbol, interval)
		return nil
	}

	f, err := t.store.LoadFrame(ctx, symbol, interval, start, target, 0)
	if err != nil {
		return err
	}
	if f.Len() < 2 || f.OpenTime[f.Len()-1] != target {
		return nil
	}

	strat, err := strategy.New(strategyName)
	if err != nil {
		return err
	}
	params, err := strategy.ParseParams(paramsJSON)
	if err != nil {
		return err
	}
	if err := strat.Init(params, f); err != nil {
		return err
	}

	last := f.Len() - 1
	row := f.Row(last)

	for _, tr := range trades {
		if tr.EntryPrice == nil || tr.Quantity == nil {
			continue
		}
		state := strategy.PositionState{
			Side:       string(tr.Side),
			EntryPrice: *tr.EntryPrice,
			StopPrice:  tr.StopBase,
			Quantity:   *tr.Quantity,
		}
		if tr.EntryTime != nil {
			state.EntryTime = *tr.EntryTime
		}

		for _, sig := range strat.OnCandle(last, row, state) {
			if sig.Action.IsExit() {
				if err := t.closeTrade(ctx, tr, row.Close, target, model.ExitReasonSignal); err != nil {
					log.Printf("[tracker] exit trade %d: %v", tr.ID, err)
				}
				break
			}
			if sig.Action.IsStop() {
				// Fallback path: the intrabar poll missed it. Execute at
				// the trigger unless the bar gapped open past it.
				exec := tr.StopTrigger
				if tr.Side == model.SideLong && row.Open < exec {
					exec = row.Open
				} else if tr.Side == model.SideShort && row.Open > exec {
					exec = row.Open
				}
				if err := t.closeTrade(ctx, tr, exec, target, model.ExitReasonStopIntrabar); err != nil {
					log.Printf("[tracker] stop trade %d: %v", tr.ID, err)
				}
				break
			}
		}
	}
	return nil
}

// closeTrade settles the economics and closes the trade, then handles the
// notification and event fan-out.
func (t *Tracker) closeTrade(ctx context.Context, tr *model.SimTrade, execPrice float64, exitTime int64, reason string) error {
	if tr.EntryPrice == nil || tr.Quantity == nil {
		return fmt.Errorf("trade %d has no entry fill", tr.ID)
	}

	cfg, err := t.store.GetConfig(ctx, tr.ConfigID)
	costBps := 0.0
	if err == nil {
		costBps = cfg.CostBps
	}

	quantity := *tr.Quantity
	gross := model.GrossPnl(tr.Side, quantity, *tr.EntryPrice, execPrice)
	exitFee := abs(quantity*execPrice) * costBps / 10_000
	net := gross - exitFee
	totalFees := tr.Fees + exitFee
	pnlPct := 0.0
	if tr.Portfolio > 0 {
		pnlPct = net / tr.Portfolio
	}

	if err := t.store.CloseTrade(ctx, tr.ID, execPrice, exitTime, reason, totalFees, net, pnlPct); err != nil {
		if err == model.ErrConflict {
			return nil // already closed by a concurrent pass
		}
		return err
	}

	log.Printf("[tracker] trade %d closed (%s): %s %s exec=%.6f pnl=%.4f",
		tr.ID, reason, tr.Side, tr.Symbol, execPrice, net)
	if tr.Portfolio+net <= 0 {
		log.Printf("[tracker] trade %d: liquidation event (equity <= 0)", tr.ID)
	}
	if t.metrics != nil {
		t.metrics.TradesClosed.WithLabelValues(reason).Inc()
	}

	event := notification.EventStopHit
	if reason == model.ExitReasonSignal {
		event = notification.EventExitSignal
	}
	t.afterFill(ctx, tr.ID, event)
	return nil
}

// afterFill reloads the trade and fans out the notification (at-most-once
// via the notification log) and the stream event.
func (t *Tracker) afterFill(ctx context.Context, tradeID int64, event string) {
	fresh, err := t.store.GetTrade(ctx, tradeID)
	if err != nil {
		return
	}

	if t.events != nil {
		t.events.Publish(event, fresh)
	}
	if t.notifier == nil {
		return
	}
	won, err := t.store.RecordNotification(ctx, event, "sim_trade", tradeID,
		fmt.Sprintf("%s %s %s", event, fresh.Side, fresh.Symbol))
	if err != nil || !won {
		return
	}

	var alert notification.Alert
	if event == notification.EventTradeOpened {
		alert = notification.TradeOpenedAlert(fresh)
	} else {
		alert = notification.TradeClosedAlert(fresh)
	}
	if err := t.notifier.Send(ctx, alert); err != nil {
		log.Printf("[tracker] trade %d notification: %v", tradeID, err)
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
