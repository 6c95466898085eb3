// Package download fills the candle store from the venue: explicit
// historical jobs with progress tracking, and an opportunistic ensure path
// the scanner and tracker use to keep their windows complete.
package download

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"trading-tools/internal/metrics"
	"trading-tools/internal/model"
	"trading-tools/internal/notification"
	"trading-tools/internal/store"
)

// KlineSource fetches candles from the venue. Satisfied by binance.Client.
type KlineSource interface {
	GetKlines(ctx context.Context, symbol string, interval model.Interval, startMs, endMs int64, limit int) ([]model.Candle, error)
}

type pairKey struct {
	symbol   string
	interval model.Interval
}

// Engine owns download jobs and the ensure cache.
type Engine struct {
	store    *store.Store
	client   KlineSource
	notifier notification.Notifier
	metrics  *metrics.Metrics

	mu           sync.Mutex
	verifiedUpto map[pairKey]int64
	syncing      map[pairKey]struct{}
}

// New builds an engine. notifier and m may be nil.
func New(st *store.Store, client KlineSource, notifier notification.Notifier, m *metrics.Metrics) *Engine {
	return &Engine{
		store:        st,
		client:       client,
		notifier:     notifier,
		metrics:      m,
		verifiedUpto: make(map[pairKey]int64),
		syncing:      make(map[pairKey]struct{}),
	}
}

// CreateJob validates the request and persists a pending job.
func (e *Engine) CreateJob(ctx context.Context, symbol string, interval model.Interval, start, end int64) (*model.DownloadJob, error) {
	if !interval.Valid() {
		return nil, fmt.Errorf("%w: interval %q", model.ErrBadInterval, interval)
	}
	if symbol == "" || start < 0 || end <= start {
		return nil, fmt.Errorf("%w: symbol %q range [%d, %d)", model.ErrBadInput, symbol, start, end)
	}
	return e.store.CreateJob(ctx, symbol, interval, start, end)
}

// StartJob runs a job in the background.
func (e *Engine) StartJob(ctx context.Context, id int64) {
	go func() {
		if err := e.RunJob(ctx, id); err != nil {
			log.Printf("[download] job %d failed: %v", id, err)
		}
	}()
}

// RunJob executes one download job to a terminal status: mark running,
// diff expected vs stored open_times, fetch the gaps in 500-candle batches
// (checking for cancellation between batches), then re-verify and finish.
func (e *Engine) RunJob(ctx context.Context, id int64) error {
	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %d already %s: %w", id, job.Status, model.ErrConflict)
	}

	step, err := job.Interval.StepMs()
	if err != nil {
		return e.finishJob(ctx, id, model.JobFailed, err.Error())
	}

	expected, err := model.ExpectedOpenTimes(job.StartTime, job.EndTime, job.Interval)
	if err != nil {
		return e.finishJob(ctx, id, model.JobFailed, err.Error())
	}

	running := model.JobRunning
	exp := int64(len(expected))
	if err := e.store.UpdateJob(ctx, id, store.JobUpdate{
		Status:          &running,
		CandlesExpected: &exp,
		LogMsg:          fmt.Sprintf("started: %d candles expected in [%d, %d)", exp, job.StartTime, job.EndTime),
	}); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.JobsStarted.Inc()
	}
	log.Printf("[download] job %d running: %s %s, %d expected", id, job.Symbol, job.Interval, exp)

	gaps, err := e.missingTimes(ctx, job.Symbol, job.Interval, job.StartTime, job.EndTime, expected)
	if err != nil {
		return e.finishJob(ctx, id, model.JobFailed, err.Error())
	}

	downloaded := int64(0)
	for start := 0; start < len(gaps); start += batchSize {
		st, err := e.store.JobStatus(ctx, id)
		if err != nil {
			return err
		}
		if st == model.JobCancelled {
			log.Printf("[download] job %d cancelled after %d candles", id, downloaded)
			return e.store.UpdateJob(ctx, id, store.JobUpdate{
				LogMsg: fmt.Sprintf("cancelled after %d candles", downloaded),
			})
		}

		endIdx := start + batchSize
		if endIdx > len(gaps) {
			endIdx = len(gaps)
		}
		batch := gaps[start:endIdx]

		n, err := e.fetchAndStore(ctx, job.Symbol, job.Interval, batch, step)
		if err != nil {
			return e.finishJob(ctx, id, model.JobFailed, fmt.Sprintf("batch at %d: %v", batch[0], err))
		}
		downloaded += n

		progress := float64(endIdx) / float64(len(gaps)) * 100
		if err := e.store.UpdateJob(ctx, id, store.JobUpdate{
			ProgressPct:       &progress,
			CandlesDownloaded: &downloaded,
		}); err != nil {
			return err
		}
	}

	// Final re-verify: anything still missing is an upstream hole (delisted
	// symbol, exchange outage) and is recorded, not retried forever.
	remaining, err := e.missingTimes(ctx, job.Symbol, job.Interval, job.StartTime, job.EndTime, expected)
	if err != nil {
		return e.finishJob(ctx, id, model.JobFailed, err.Error())
	}

	done := model.JobCompleted
	full := 100.0
	gapCount := int64(len(remaining))
	if err := e.store.UpdateJob(ctx, id, store.JobUpdate{
		Status:            &done,
		ProgressPct:       &full,
		CandlesDownloaded: &downloaded,
		GapsFound:         &gapCount,
		LogMsg:            fmt.Sprintf("completed: %d downloaded, %d gaps remain", downloaded, gapCount),
	}); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.JobsCompleted.WithLabelValues(string(model.JobCompleted)).Inc()
		e.metrics.GapsFilled.Add(float64(downloaded))
	}
	e.notifyJobFinished(ctx, id)
	return nil
}

const batchSize = 500

func (e *Engine) finishJob(ctx context.Context, id int64, status model.JobStatus, msg string) error {
	if err := e.store.UpdateJob(ctx, id, store.JobUpdate{Status: &status, LogMsg: msg}); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.JobsCompleted.WithLabelValues(string(status)).Inc()
	}
	e.notifyJobFinished(ctx, id)
	if status == model.JobFailed {
		return fmt.Errorf("job %d failed: %s", id, msg)
	}
	return nil
}

func (e *Engine) notifyJobFinished(ctx context.Context, id int64) {
	if e.notifier == nil {
		return
	}
	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		return
	}
	won, err := e.store.RecordNotification(ctx, notification.EventJobFinished, "download_job", id,
		fmt.Sprintf("%s %s %s", job.Status, job.Symbol, job.Interval))
	if err != nil || !won {
		return
	}
	if err := e.notifier.Send(ctx, notification.JobFinishedAlert(job)); err != nil {
		log.Printf("[download] job %d notification: %v", id, err)
	}
}

// missingTimes diffs expected against stored open_times, ascending.
func (e *Engine) missingTimes(ctx context.Context, symbol string, interval model.Interval, start, end int64, expected []int64) ([]int64, error) {
	existing, err := e.store.ExistingOpenTimes(ctx, symbol, interval, start, end)
	if err != nil {
		return nil, err
	}
	var gaps []int64
	for _, t := range expected {
		if _, ok := existing[t]; !ok {
			gaps = append(gaps, t)
		}
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	return gaps, nil
}

// fetchAndStore pulls one gap batch [first, last+step-1] from the venue,
// validates, and upserts. Returns the number of rows written.
func (e *Engine) fetchAndStore(ctx context.Context, symbol string, interval model.Interval, gaps []int64, step int64) (int64, error) {
	if len(gaps) == 0 {
		return 0, nil
	}

	candles, err := e.client.GetKlines(ctx, symbol, interval, gaps[0], gaps[len(gaps)-1]+step-1, batchSize)
	if err != nil {
		return 0, err
	}

	valid := candles[:0]
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			log.Printf("[download] dropping invalid candle: %v", err)
			continue
		}
		valid = append(valid, c)
	}

	n, err := e.store.UpsertCandles(ctx, valid)
	if err != nil {
		return 0, err
	}
	if e.metrics != nil {
		e.metrics.CandlesUpserted.Add(float64(n))
	}
	return int64(n), nil
}
