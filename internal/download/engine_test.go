package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trading-tools/internal/model"
	"trading-tools/internal/store"
)

const hourMs = int64(3_600_000)

// fakeSource serves synthetic candles for any requested range and records
// every request.
type fakeSource struct {
	mu       sync.Mutex
	requests [][2]int64
	calls    atomic.Int64
	onCall   func(call int64)
	fail     error
}

func (f *fakeSource) GetKlines(ctx context.Context, symbol string, interval model.Interval, startMs, endMs int64, limit int) ([]model.Candle, error) {
	call := f.calls.Add(1)
	if f.onCall != nil {
		f.onCall(call)
	}
	if f.fail != nil {
		return nil, f.fail
	}

	f.mu.Lock()
	f.requests = append(f.requests, [2]int64{startMs, endMs})
	f.mu.Unlock()

	step, _ := interval.StepMs()
	var out []model.Candle
	for t := (startMs / step) * step; t <= endMs && len(out) < limit; t += step {
		if t < startMs {
			continue
		}
		out = append(out, model.Candle{
			Symbol: symbol, Interval: interval, OpenTime: t,
			Open: "100", High: "110", Low: "90", Close: "105", Volume: "10",
			CloseTime:        t + step - 1,
			QuoteAssetVolume: "1000", NumberOfTrades: 1,
			TakerBuyBaseVol: "5", TakerBuyQuoteVol: "500",
			Source: model.SourceBinanceSpot, DownloadedAt: model.NowISO(),
		})
	}
	return out, nil
}

func newTestEngine(t *testing.T, src KlineSource) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, src, nil, nil), st
}

func seedCandles(t *testing.T, st *store.Store, symbol string, interval model.Interval, times []int64) {
	t.Helper()
	step, _ := interval.StepMs()
	var batch []model.Candle
	for _, ot := range times {
		batch = append(batch, model.Candle{
			Symbol: symbol, Interval: interval, OpenTime: ot,
			Open: "100", High: "110", Low: "90", Close: "105", Volume: "10",
			CloseTime:        ot + step - 1,
			QuoteAssetVolume: "1000", NumberOfTrades: 1,
			TakerBuyBaseVol: "5", TakerBuyQuoteVol: "500",
			Source: model.SourceBinanceSpot, DownloadedAt: model.NowISO(),
		})
	}
	if _, err := st.UpsertCandles(context.Background(), batch); err != nil {
		t.Fatal(err)
	}
}

func TestRunJob_FetchesOnlyTheGap(t *testing.T) {
	src := &fakeSource{}
	e, st := newTestEngine(t, src)
	ctx := context.Background()

	// Candles 0-4 and 7-9 present; the job must fetch only 5 and 6.
	seedCandles(t, st, "BTCUSDT", model.Interval1h, []int64{0, hourMs, 2 * hourMs, 3 * hourMs, 4 * hourMs, 7 * hourMs, 8 * hourMs, 9 * hourMs})

	job, err := e.CreateJob(ctx, "BTCUSDT", model.Interval1h, 0, 10*hourMs)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.RunJob(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	if got := src.calls.Load(); got != 1 {
		t.Errorf("kline requests = %d, want 1", got)
	}
	if len(src.requests) == 1 {
		if src.requests[0][0] != 5*hourMs || src.requests[0][1] != 6*hourMs+hourMs-1 {
			t.Errorf("request range = %v, want [5h, 7h-1]", src.requests[0])
		}
	}

	done, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != model.JobCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}
	if done.CandlesExpected != 10 || done.CandlesDownloaded != 2 || done.GapsFound != 0 {
		t.Errorf("job counters = expected %d / downloaded %d / gaps %d", done.CandlesExpected, done.CandlesDownloaded, done.GapsFound)
	}
	if done.ProgressPct != 100 {
		t.Errorf("progress = %v", done.ProgressPct)
	}

	count, _, err := st.CountAndLast(ctx, "BTCUSDT", model.Interval1h, 0, 10*hourMs)
	if err != nil {
		t.Fatal(err)
	}
	if count != 10 {
		t.Errorf("stored candles = %d, want 10", count)
	}
}

func TestRunJob_CancelledBetweenBatches(t *testing.T) {
	var e *Engine
	var st *store.Store
	var jobID int64

	// 600 one-minute gaps force two batches; cancel during the first fetch
	// so the second batch's status check aborts the job.
	src := &fakeSource{}
	src.onCall = func(call int64) {
		if call == 1 {
			if err := st.CancelJob(context.Background(), jobID); err != nil {
				t.Errorf("cancel: %v", err)
			}
		}
	}
	e, st = newTestEngine(t, src)
	ctx := context.Background()

	job, err := e.CreateJob(ctx, "BTCUSDT", model.Interval1m, 0, 600*60_000)
	if err != nil {
		t.Fatal(err)
	}
	jobID = job.ID

	if err := e.RunJob(ctx, jobID); err != nil {
		t.Fatal(err)
	}

	done, err := st.GetJob(ctx, jobID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != model.JobCancelled {
		t.Errorf("status = %s, want cancelled", done.Status)
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("kline requests after cancel = %d, want 1", got)
	}
}

func TestRunJob_UpstreamFailureMarksFailed(t *testing.T) {
	src := &fakeSource{fail: fmt.Errorf("klines: %w", model.ErrUpstreamUnavailable)}
	e, st := newTestEngine(t, src)
	ctx := context.Background()

	job, err := e.CreateJob(ctx, "BTCUSDT", model.Interval1h, 0, 3*hourMs)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.RunJob(ctx, job.ID); err == nil {
		t.Fatal("expected error from failed job")
	}

	done, _ := st.GetJob(ctx, job.ID)
	if done.Status != model.JobFailed {
		t.Errorf("status = %s, want failed", done.Status)
	}
}

func TestRunJob_TerminalJobIsConflict(t *testing.T) {
	src := &fakeSource{}
	e, st := newTestEngine(t, src)
	ctx := context.Background()

	job, err := e.CreateJob(ctx, "BTCUSDT", model.Interval1h, 0, 2*hourMs)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.RunJob(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if err := e.RunJob(ctx, job.ID); !errors.Is(err, model.ErrConflict) {
		t.Errorf("re-run = %v, want ErrConflict", err)
	}
	_ = st
}

func TestCreateJob_Validation(t *testing.T) {
	e, _ := newTestEngine(t, &fakeSource{})
	ctx := context.Background()

	if _, err := e.CreateJob(ctx, "BTCUSDT", "7m", 0, hourMs); !errors.Is(err, model.ErrBadInterval) {
		t.Errorf("bad interval = %v", err)
	}
	if _, err := e.CreateJob(ctx, "BTCUSDT", model.Interval1h, hourMs, hourMs); !errors.Is(err, model.ErrBadInput) {
		t.Errorf("empty range = %v", err)
	}
	if _, err := e.CreateJob(ctx, "", model.Interval1h, 0, hourMs); !errors.Is(err, model.ErrBadInput) {
		t.Errorf("empty symbol = %v", err)
	}
}

func TestEnsure_CompleteDataFastPath(t *testing.T) {
	src := &fakeSource{}
	e, st := newTestEngine(t, src)
	ctx := context.Background()

	seedCandles(t, st, "ETHUSDT", model.Interval1h, []int64{0, hourMs, 2 * hourMs})

	ready, err := e.Ensure(ctx, "ETHUSDT", model.Interval1h, 0, 3*hourMs)
	if err != nil {
		t.Fatal(err)
	}
	if !ready {
		t.Fatal("complete range reported not ready")
	}
	if src.calls.Load() != 0 {
		t.Errorf("complete range triggered %d fetches", src.calls.Load())
	}

	// Second call hits the verified cache without touching the store; a
	// narrower window is covered by the same verification.
	ready, err = e.Ensure(ctx, "ETHUSDT", model.Interval1h, hourMs, 3*hourMs)
	if err != nil || !ready {
		t.Fatalf("cached ensure = %v, %v", ready, err)
	}
}

func TestEnsure_MissingDataSyncsInBackground(t *testing.T) {
	src := &fakeSource{}
	e, st := newTestEngine(t, src)
	ctx := context.Background()

	seedCandles(t, st, "BTCUSDT", model.Interval1h, []int64{0, 2 * hourMs})

	ready, err := e.Ensure(ctx, "BTCUSDT", model.Interval1h, 0, 3*hourMs)
	if err != nil {
		t.Fatal(err)
	}
	if ready {
		t.Fatal("incomplete range reported ready")
	}

	// The detached sync fills candle 1h; poll until it lands.
	deadline := time.Now().Add(2 * time.Second)
	for {
		count, _, err := st.CountAndLast(ctx, "BTCUSDT", model.Interval1h, 0, 3*hourMs)
		if err != nil {
			t.Fatal(err)
		}
		if count == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("background sync never completed, count = %d", count)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Once synced, Ensure flips to ready (possibly after the goroutine
	// clears the syncing set).
	deadline = time.Now().Add(2 * time.Second)
	for {
		ready, err := e.Ensure(ctx, "BTCUSDT", model.Interval1h, 0, 3*hourMs)
		if err != nil {
			t.Fatal(err)
		}
		if ready {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ensure never became ready after sync")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEnsure_EmptyWindowIsReady(t *testing.T) {
	e, _ := newTestEngine(t, &fakeSource{})
	// A window shorter than one step expects no candles.
	ready, err := e.Ensure(context.Background(), "BTCUSDT", model.Interval1d, 100, 200)
	if err != nil || !ready {
		t.Fatalf("empty window = %v, %v", ready, err)
	}
}
