package model

import "fmt"

// Interval is a candle duration with a fixed millisecond step.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval8h  Interval = "8h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
	Interval3d  Interval = "3d"
	Interval1w  Interval = "1w"
	Interval1M  Interval = "1M"
)

const (
	minuteMs = 60_000
	hourMs   = 3_600_000
	dayMs    = 86_400_000
)

// intervalMs maps each interval to its step in milliseconds.
// 1M is approximated as 30 days; Binance uses calendar months.
var intervalMs = map[Interval]int64{
	Interval1m:  minuteMs,
	Interval3m:  3 * minuteMs,
	Interval5m:  5 * minuteMs,
	Interval15m: 15 * minuteMs,
	Interval30m: 30 * minuteMs,
	Interval1h:  hourMs,
	Interval2h:  2 * hourMs,
	Interval4h:  4 * hourMs,
	Interval6h:  6 * hourMs,
	Interval8h:  8 * hourMs,
	Interval12h: 12 * hourMs,
	Interval1d:  dayMs,
	Interval3d:  3 * dayMs,
	Interval1w:  7 * dayMs,
	Interval1M:  30 * dayMs,
}

// Intervals lists all recognized intervals in ascending step order.
func Intervals() []Interval {
	return []Interval{
		Interval1m, Interval3m, Interval5m, Interval15m, Interval30m,
		Interval1h, Interval2h, Interval4h, Interval6h, Interval8h,
		Interval12h, Interval1d, Interval3d, Interval1w, Interval1M,
	}
}

// StepMs returns the interval step in milliseconds, or ErrBadInterval.
func (i Interval) StepMs() (int64, error) {
	step, ok := intervalMs[i]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrBadInterval, string(i))
	}
	return step, nil
}

// Valid reports whether the interval is recognized.
func (i Interval) Valid() bool {
	_, ok := intervalMs[i]
	return ok
}

// CurrentOpenTime returns the open_time (ms) of the candle forming at nowMs.
func (i Interval) CurrentOpenTime(nowMs int64) (int64, error) {
	step, err := i.StepMs()
	if err != nil {
		return 0, err
	}
	return (nowMs / step) * step, nil
}

// LastClosedOpenTime returns the open_time (ms) of the most recently fully
// closed candle as of nowMs: the candle one step before the forming one.
func (i Interval) LastClosedOpenTime(nowMs int64) (int64, error) {
	current, err := i.CurrentOpenTime(nowMs)
	if err != nil {
		return 0, err
	}
	step, _ := i.StepMs()
	return current - step, nil
}

// ExpectedOpenTimes generates the ascending, step-aligned open_time values
// in [align_up(startMs, step), endMs). These are the candles that should
// exist for a complete range.
func ExpectedOpenTimes(startMs, endMs int64, interval Interval) ([]int64, error) {
	step, err := interval.StepMs()
	if err != nil {
		return nil, err
	}

	aligned := (startMs / step) * step
	if aligned < startMs {
		aligned += step
	}

	var times []int64
	for t := aligned; t < endMs; t += step {
		times = append(times, t)
	}
	return times, nil
}
