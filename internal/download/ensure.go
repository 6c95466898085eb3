package download

import (
	"context"
	"log"

	"trading-tools/internal/model"
)

// Ensure reports whether every expected candle in [start, end) is stored.
// When data is missing it schedules a detached background sync (at most one
// per pair) and returns false immediately: callers skip their current cycle
// instead of blocking on network I/O.
func (e *Engine) Ensure(ctx context.Context, symbol string, interval model.Interval, start, end int64) (bool, error) {
	key := pairKey{symbol, interval}

	e.mu.Lock()
	if e.verifiedUpto[key] >= end {
		e.mu.Unlock()
		return true, nil
	}
	if _, busy := e.syncing[key]; busy {
		e.mu.Unlock()
		return false, nil
	}
	e.mu.Unlock()

	step, err := interval.StepMs()
	if err != nil {
		return false, err
	}
	expected, err := model.ExpectedOpenTimes(start, end, interval)
	if err != nil {
		return false, err
	}
	if len(expected) == 0 {
		return true, nil
	}

	// Cheap completeness check: the count and the last open_time together
	// imply every expected candle is present.
	count, last, err := e.store.CountAndLast(ctx, symbol, interval, start, end)
	if err != nil {
		return false, err
	}
	if count >= int64(len(expected)) && last == expected[len(expected)-1] {
		e.markVerified(key, end)
		return true, nil
	}

	// Incomplete: claim the pair and sync in the background.
	e.mu.Lock()
	if _, busy := e.syncing[key]; busy {
		e.mu.Unlock()
		return false, nil
	}
	e.syncing[key] = struct{}{}
	e.mu.Unlock()

	go e.backgroundSync(ctx, key, start, end, expected, step)
	return false, nil
}

func (e *Engine) markVerified(key pairKey, end int64) {
	e.mu.Lock()
	if e.verifiedUpto[key] < end {
		e.verifiedUpto[key] = end
	}
	e.mu.Unlock()
}

// backgroundSync runs the same gap-fill loop as a job, without a job row.
// On error the cache stays untouched so the next Ensure retries.
func (e *Engine) backgroundSync(ctx context.Context, key pairKey, start, end int64, expected []int64, step int64) {
	defer func() {
		e.mu.Lock()
		delete(e.syncing, key)
		e.mu.Unlock()
	}()

	gaps, err := e.missingTimes(ctx, key.symbol, key.interval, start, end, expected)
	if err != nil {
		log.Printf("[download] sync %s %s: %v", key.symbol, key.interval, err)
		return
	}

	for i := 0; i < len(gaps); i += batchSize {
		j := i + batchSize
		if j > len(gaps) {
			j = len(gaps)
		}
		if _, err := e.fetchAndStore(ctx, key.symbol, key.interval, gaps[i:j], step); err != nil {
			log.Printf("[download] sync %s %s batch at %d: %v", key.symbol, key.interval, gaps[i], err)
			return
		}
	}

	// Re-verify before trusting the cache: the venue may simply not have
	// these candles (pre-listing history).
	remaining, err := e.missingTimes(ctx, key.symbol, key.interval, start, end, expected)
	if err != nil || len(remaining) > 0 {
		log.Printf("[download] sync %s %s finished with %d gaps", key.symbol, key.interval, len(remaining))
		return
	}
	e.markVerified(key, end)
	log.Printf("[download] sync %s %s complete through %d", key.symbol, key.interval, end)
}
