package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"trading-tools/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testCandle(symbol string, interval model.Interval, openTime int64, close string) model.Candle {
	step, _ := interval.StepMs()
	return model.Candle{
		Symbol: symbol, Interval: interval, OpenTime: openTime,
		Open: "100", High: "110", Low: "90", Close: close, Volume: "1000",
		CloseTime:        openTime + step - 1,
		QuoteAssetVolume: "100000", NumberOfTrades: 42,
		TakerBuyBaseVol: "500", TakerBuyQuoteVol: "50000",
		Source: model.SourceBinanceSpot, DownloadedAt: model.NowISO(),
	}
}

func TestUpsertCandles_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	hour := int64(3_600_000)
	batch := []model.Candle{
		testCandle("BTCUSDT", model.Interval1h, 0, "105"),
		testCandle("BTCUSDT", model.Interval1h, hour, "106"),
	}
	if _, err := s.UpsertCandles(ctx, batch); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Re-upserting the same candles with a new close replaces, not duplicates.
	batch[1].Close = "107"
	if _, err := s.UpsertCandles(ctx, batch); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	count, last, err := s.CountAndLast(ctx, "BTCUSDT", model.Interval1h, 0, 10*hour)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if last != hour {
		t.Errorf("last = %d, want %d", last, hour)
	}

	c, err := s.GetCandle(ctx, "BTCUSDT", model.Interval1h, hour)
	if err != nil {
		t.Fatal(err)
	}
	if c.Close != "107" {
		t.Errorf("close after replace = %q, want 107", c.Close)
	}
}

func TestExistingOpenTimes_GapDetection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Store candles 0,1,2,4 of a 5-candle range; 3 is the gap.
	hour := int64(3_600_000)
	var batch []model.Candle
	for _, i := range []int64{0, 1, 2, 4} {
		batch = append(batch, testCandle("ETHUSDT", model.Interval1h, i*hour, "100"))
	}
	if _, err := s.UpsertCandles(ctx, batch); err != nil {
		t.Fatal(err)
	}

	have, err := s.ExistingOpenTimes(ctx, "ETHUSDT", model.Interval1h, 0, 5*hour)
	if err != nil {
		t.Fatal(err)
	}
	expected, _ := model.ExpectedOpenTimes(0, 5*hour, model.Interval1h)

	var missing []int64
	for _, et := range expected {
		if _, ok := have[et]; !ok {
			missing = append(missing, et)
		}
	}
	if len(missing) != 1 || missing[0] != 3*hour {
		t.Errorf("missing = %v, want [%d]", missing, 3*hour)
	}
}

func TestCoverage_SplitsOnGaps(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	hour := int64(3_600_000)
	var batch []model.Candle
	for _, i := range []int64{0, 1, 2, 5, 6} {
		batch = append(batch, testCandle("BTCUSDT", model.Interval1h, i*hour, "100"))
	}
	if _, err := s.UpsertCandles(ctx, batch); err != nil {
		t.Fatal(err)
	}

	ranges, err := s.Coverage(ctx, "BTCUSDT", model.Interval1h)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) != 2 {
		t.Fatalf("ranges = %d, want 2", len(ranges))
	}
	if ranges[0].Start != 0 || ranges[0].End != 2*hour || ranges[0].Candles != 3 {
		t.Errorf("first range = %+v", ranges[0])
	}
	if ranges[1].Start != 5*hour || ranges[1].End != 6*hour || ranges[1].Candles != 2 {
		t.Errorf("second range = %+v", ranges[1])
	}
}

func TestLoadFrame_CoercesAndOrders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	hour := int64(3_600_000)
	batch := []model.Candle{
		testCandle("BTCUSDT", model.Interval1h, hour, "106.5"),
		testCandle("BTCUSDT", model.Interval1h, 0, "105.25"),
	}
	if _, err := s.UpsertCandles(ctx, batch); err != nil {
		t.Fatal(err)
	}

	f, err := s.LoadFrame(ctx, "BTCUSDT", model.Interval1h, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if f.Len() != 2 {
		t.Fatalf("frame len = %d, want 2", f.Len())
	}
	if f.OpenTime[0] != 0 || f.OpenTime[1] != hour {
		t.Errorf("not ordered: %v", f.OpenTime)
	}
	if f.Close[0] != 105.25 || f.Close[1] != 106.5 {
		t.Errorf("closes = %v", f.Close)
	}
}

func TestLoadFrame_CorruptRowErrors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertCandles(ctx, []model.Candle{testCandle("BTCUSDT", model.Interval1h, 0, "105")}); err != nil {
		t.Fatal(err)
	}
	// Corrupt a non-open column behind the upsert validation's back.
	if _, err := s.exec(ctx, `UPDATE klines SET high = 'garbage' WHERE symbol = ? AND open_time = ?`, "BTCUSDT", int64(0)); err != nil {
		t.Fatal(err)
	}

	_, err := s.LoadFrame(ctx, "BTCUSDT", model.Interval1h, 0, 0, 0)
	if err == nil {
		t.Fatal("corrupt high column loaded without error")
	}
	if !strings.Contains(err.Error(), "high") {
		t.Errorf("error does not name the field: %v", err)
	}
}

func TestJobs_LifecycleAndCancelGuard(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	j, err := s.CreateJob(ctx, "BTCUSDT", model.Interval1h, 0, 86_400_000)
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != model.JobPending {
		t.Errorf("new job status = %s", j.Status)
	}

	running := model.JobRunning
	pct := 50.0
	if err := s.UpdateJob(ctx, j.ID, JobUpdate{Status: &running, ProgressPct: &pct, LogMsg: "halfway"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.JobRunning || got.ProgressPct != 50.0 {
		t.Errorf("after update: %+v", got)
	}
	if len(got.Log) != 1 || got.Log[0].Msg != "halfway" {
		t.Errorf("log = %+v", got.Log)
	}

	if err := s.CancelJob(ctx, j.ID); err != nil {
		t.Fatalf("cancel running: %v", err)
	}
	if err := s.CancelJob(ctx, j.ID); !errors.Is(err, model.ErrConflict) {
		t.Errorf("cancel terminal = %v, want ErrConflict", err)
	}
}

func newTestConfig() *model.SignalConfig {
	return &model.SignalConfig{
		Symbol: "BTCUSDT", Interval: model.Interval1h,
		Strategy: "breakout", Params: `{"N_entrada":20}`,
		StopCrossPct: 0.02, Portfolio: 10000, CostBps: 10, Active: true,
	}
}

func TestConfigs_UniquenessAndPatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.CreateConfig(ctx, newTestConfig())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.CreateConfig(ctx, newTestConfig()); !errors.Is(err, model.ErrConflict) {
		t.Errorf("duplicate create = %v, want ErrConflict", err)
	}

	inactive := false
	portfolio := 25000.0
	patched, err := s.PatchConfig(ctx, c.ID, ConfigPatch{Active: &inactive, Portfolio: &portfolio})
	if err != nil {
		t.Fatal(err)
	}
	if patched.Active || patched.Portfolio != 25000 {
		t.Errorf("patched = %+v", patched)
	}

	if _, err := s.PatchConfig(ctx, 9999, ConfigPatch{Active: &inactive}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("patch missing = %v, want ErrNotFound", err)
	}
}

func TestAdvanceWatermark_Monotonic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.CreateConfig(ctx, newTestConfig())
	if err != nil {
		t.Fatal(err)
	}

	if err := s.AdvanceWatermark(ctx, c.ID, 5000); err != nil {
		t.Fatal(err)
	}
	// Going backwards is a no-op.
	if err := s.AdvanceWatermark(ctx, c.ID, 1000); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetConfig(ctx, c.ID)
	if got.LastProcessedCandle != 5000 {
		t.Errorf("watermark = %d, want 5000", got.LastProcessedCandle)
	}
}

func emitTestSignal(t *testing.T, s *Store, configID, triggerTime int64) (*model.Signal, *model.SimTrade, bool) {
	t.Helper()
	sg := &model.Signal{
		ConfigID: configID, Symbol: "BTCUSDT", Interval: model.Interval1h,
		Strategy: "breakout", Side: model.SideLong,
		TriggerCandleTime: triggerTime,
		StopPrice:         95, StopTriggerPrice: 93.1,
	}
	out, tr, created, err := s.EmitSignal(context.Background(), sg, 10000, 1, 10000)
	if err != nil {
		t.Fatalf("emit signal: %v", err)
	}
	return out, tr, created
}

func TestEmitSignal_DedupOnTriggerCandle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.CreateConfig(ctx, newTestConfig())
	if err != nil {
		t.Fatal(err)
	}

	sg, tr, created := emitTestSignal(t, s, c.ID, 7200000)
	if !created {
		t.Fatal("first emit not created")
	}
	if tr == nil || tr.Status != model.TradePendingEntry {
		t.Fatalf("trade = %+v", tr)
	}

	// Same trigger candle again: dedup, existing signal returned.
	sg2, tr2, created2 := emitTestSignal(t, s, c.ID, 7200000)
	if created2 {
		t.Error("re-emit reported created")
	}
	if tr2 != nil {
		t.Error("re-emit produced a second trade")
	}
	if sg2.ID != sg.ID {
		t.Errorf("re-emit returned signal %d, want %d", sg2.ID, sg.ID)
	}

	trades, err := s.ListTrades(ctx, c.ID, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 {
		t.Errorf("trades = %d, want exactly 1", len(trades))
	}
}

func TestTradeLifecycle_FillThenClose(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.CreateConfig(ctx, newTestConfig())
	if err != nil {
		t.Fatal(err)
	}
	sg, tr, _ := emitTestSignal(t, s, c.ID, 3600000)

	if err := s.FillEntry(ctx, tr.ID, 100, 7200000, 100, 10); err != nil {
		t.Fatalf("fill: %v", err)
	}
	// Double fill loses on the status guard.
	if err := s.FillEntry(ctx, tr.ID, 101, 7200000, 100, 10); !errors.Is(err, model.ErrConflict) {
		t.Errorf("double fill = %v, want ErrConflict", err)
	}

	gotSig, _ := s.GetSignal(ctx, sg.ID)
	if gotSig.Status != model.SignalActive {
		t.Errorf("signal after fill = %s, want active", gotSig.Status)
	}

	if err := s.CloseTrade(ctx, tr.ID, 93.1, 10800000, model.ExitReasonStopIntrabar, 19.31, -690.0, -6.9); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.CloseTrade(ctx, tr.ID, 93.1, 10800000, model.ExitReasonStopIntrabar, 19.31, -690.0, -6.9); !errors.Is(err, model.ErrConflict) {
		t.Errorf("double close = %v, want ErrConflict", err)
	}

	got, err := s.GetTrade(ctx, tr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.TradeClosed || got.ExitReason == nil || *got.ExitReason != model.ExitReasonStopIntrabar {
		t.Errorf("closed trade = %+v", got)
	}
	if got.Pnl == nil || *got.Pnl != -690.0 {
		t.Errorf("pnl = %v, want -690", got.Pnl)
	}

	gotSig, _ = s.GetSignal(ctx, sg.ID)
	if gotSig.Status != model.SignalClosed {
		t.Errorf("signal after close = %s, want closed", gotSig.Status)
	}
}

func TestDeleteConfig_ClosesTradesAndSignals(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.CreateConfig(ctx, newTestConfig())
	if err != nil {
		t.Fatal(err)
	}
	sg, tr, _ := emitTestSignal(t, s, c.ID, 3600000)

	if err := s.DeleteConfig(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetConfig(ctx, c.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("deleted config still readable: %v", err)
	}

	// History survives, marked closed.
	gotTr, err := s.GetTrade(ctx, tr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if gotTr.Status != model.TradeClosed {
		t.Errorf("trade after config delete = %s, want closed", gotTr.Status)
	}
	gotSig, err := s.GetSignal(ctx, sg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if gotSig.Status != model.SignalClosed {
		t.Errorf("signal after config delete = %s, want closed", gotSig.Status)
	}
}

func TestRecordNotification_AtMostOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	won, err := s.RecordNotification(ctx, "signal_created", "signal", 1, "long BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if !won {
		t.Fatal("first record lost the slot")
	}

	won, err = s.RecordNotification(ctx, "signal_created", "signal", 1, "long BTCUSDT again")
	if err != nil {
		t.Fatal(err)
	}
	if won {
		t.Error("second record won an already-claimed slot")
	}

	// Different event type for the same reference is a distinct slot.
	won, err = s.RecordNotification(ctx, "trade_opened", "signal", 1, "entry filled")
	if err != nil {
		t.Fatal(err)
	}
	if !won {
		t.Error("distinct event type should claim its own slot")
	}
}

func TestUpsertMetric_NaNStoredAsNull(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	times := []int64{0, 3600000, 7200000}
	values := []float64{math.NaN(), 100.5, 101.5}

	if _, err := s.UpsertMetric(ctx, "BTCUSDT", model.Interval1h, "sma_20", times, values); err != nil {
		t.Fatal(err)
	}

	pts, err := s.MetricSeries(ctx, "BTCUSDT", model.Interval1h, "sma_20", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pts) != 3 {
		t.Fatalf("points = %d, want 3", len(pts))
	}
	if pts[0].Value != nil {
		t.Errorf("warmup value = %v, want null", *pts[0].Value)
	}
	if pts[1].Value == nil || *pts[1].Value != 100.5 {
		t.Errorf("point 1 = %v", pts[1].Value)
	}

	status, err := s.MetricsStatus(ctx, "BTCUSDT", model.Interval1h)
	if err != nil {
		t.Fatal(err)
	}
	if len(status) != 1 || status[0].Metric != "sma_20" || status[0].Rows != 3 {
		t.Errorf("status = %+v", status)
	}
}

func TestRealTrades_CloseDerivesPnl(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rt, err := s.CreateRealTrade(ctx, &model.RealTrade{
		Symbol: "BTCUSDT", Side: model.SideLong,
		EntryPrice: 100, EntryTime: model.NowISO(),
		Quantity: 2, Fees: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if rt.Status != "open" {
		t.Errorf("new real trade status = %s", rt.Status)
	}

	closed, err := s.CloseRealTrade(ctx, rt.ID, 110, model.NowISO(), 1)
	if err != nil {
		t.Fatal(err)
	}
	// gross = 2*(110-100) = 20, minus exit fee 1 = 19.
	if closed.Pnl == nil || *closed.Pnl != 19 {
		t.Errorf("pnl = %v, want 19", closed.Pnl)
	}
	if _, err := s.CloseRealTrade(ctx, rt.ID, 110, model.NowISO(), 1); !errors.Is(err, model.ErrConflict) {
		t.Errorf("double close = %v, want ErrConflict", err)
	}
}

func TestListSignals_Filters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c1, err := s.CreateConfig(ctx, newTestConfig())
	if err != nil {
		t.Fatal(err)
	}
	c2cfg := newTestConfig()
	c2cfg.Symbol = "ETHUSDT"
	c2, err := s.CreateConfig(ctx, c2cfg)
	if err != nil {
		t.Fatal(err)
	}

	for i := int64(1); i <= 3; i++ {
		emitTestSignal(t, s, c1.ID, i*3600000)
	}
	emitTestSignal(t, s, c2.ID, 3600000)

	got, err := s.ListSignals(ctx, c1.ID, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("config 1 signals = %d, want 3", len(got))
	}
	for _, sg := range got {
		if sg.ConfigID != c1.ID {
			t.Errorf("leaked signal from config %d", sg.ConfigID)
		}
	}

	got, err = s.ListSignals(ctx, 0, model.SignalPending, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("limited list = %d, want 2", len(got))
	}
}

func TestGetCandle_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetCandle(context.Background(), "BTCUSDT", model.Interval1h, 123); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing candle = %v, want ErrNotFound", err)
	}
}

func TestRebind_Postgres(t *testing.T) {
	s := &Store{pg: true}
	got := s.rebind("SELECT * FROM klines WHERE symbol = ? AND open_time >= ?")
	want := "SELECT * FROM klines WHERE symbol = $1 AND open_time >= $2"
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}
	// sqlite passes through untouched
	s2 := &Store{}
	q := "SELECT 1 WHERE a = ?"
	if s2.rebind(q) != q {
		t.Errorf("sqlite rebind altered query")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{fmt.Errorf("UNIQUE constraint failed: signals.config_id"), true},
		{fmt.Errorf(`duplicate key value violates unique constraint "idx_signals_dedup"`), true},
		{fmt.Errorf("ERROR: conflict (SQLSTATE 23505)"), true},
		{fmt.Errorf("connection refused"), false},
	}
	for _, c := range cases {
		if got := isUniqueViolation(c.err); got != c.want {
			t.Errorf("isUniqueViolation(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
