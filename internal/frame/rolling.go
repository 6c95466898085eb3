package frame

import "math"

// RollingMax returns out[t] = max(vals[t-n+1 .. t]), NaN during warm-up or
// when the window contains a NaN. Monotonic-deque implementation, O(n) total.
func RollingMax(vals []float64, n int) []float64 {
	return rollingExtreme(vals, n, func(a, b float64) bool { return a >= b })
}

// RollingMin returns out[t] = min(vals[t-n+1 .. t]), NaN during warm-up or
// when the window contains a NaN.
func RollingMin(vals []float64, n int) []float64 {
	return rollingExtreme(vals, n, func(a, b float64) bool { return a <= b })
}

// rollingExtreme keeps a deque of indices whose values are monotonic under
// keep(front, back): new values evict dominated tail entries, expired
// indices fall off the head. A NaN in the window poisons the output for as
// long as it stays inside; over a shifted series this is what keeps the
// level undefined until the full lookback exists.
func rollingExtreme(vals []float64, n int, keep func(existing, incoming float64) bool) []float64 {
	out := make([]float64, len(vals))
	if n <= 0 {
		for i := range out {
			out[i] = NaN
		}
		return out
	}

	deque := make([]int, 0, n)
	nanCount := 0
	for t := range vals {
		if math.IsNaN(vals[t]) {
			nanCount++
		}
		if t >= n && math.IsNaN(vals[t-n]) {
			nanCount--
		}
		// Evict indices outside the window.
		for len(deque) > 0 && deque[0] <= t-n {
			deque = deque[1:]
		}
		// Evict dominated tail entries.
		for len(deque) > 0 && !keep(vals[deque[len(deque)-1]], vals[t]) {
			deque = deque[:len(deque)-1]
		}
		deque = append(deque, t)

		if t < n-1 || nanCount > 0 {
			out[t] = NaN
		} else {
			out[t] = vals[deque[0]]
		}
	}
	return out
}

// Shift moves a series forward by one bar: out[t] = vals[t-1], out[0] = NaN.
// Combined with RollingMax/Min this yields the "previous N bars, exclusive
// of the current one" windows breakout levels are built on.
func Shift(vals []float64) []float64 {
	out := make([]float64, len(vals))
	if len(vals) == 0 {
		return out
	}
	out[0] = NaN
	copy(out[1:], vals[:len(vals)-1])
	return out
}

// RollingMean returns out[t] = mean(vals[t-n+1 .. t]) via a running sum,
// NaN during warm-up or when the window contains a NaN.
func RollingMean(vals []float64, n int) []float64 {
	out := make([]float64, len(vals))
	if n <= 0 {
		for i := range out {
			out[i] = NaN
		}
		return out
	}

	var sum float64
	nanCount := 0
	for t := range vals {
		if math.IsNaN(vals[t]) {
			nanCount++
		} else {
			sum += vals[t]
		}
		if t >= n {
			old := vals[t-n]
			if math.IsNaN(old) {
				nanCount--
			} else {
				sum -= old
			}
		}
		if t < n-1 || nanCount > 0 {
			out[t] = NaN
		} else {
			out[t] = sum / float64(n)
		}
	}
	return out
}

// RollingStd returns the rolling sample standard deviation (n−1 divisor)
// over n bars using running sums of x and x². NaN during warm-up or NaN
// windows.
func RollingStd(vals []float64, n int) []float64 {
	out := make([]float64, len(vals))
	if n <= 1 {
		for i := range out {
			out[i] = NaN
		}
		return out
	}

	var sum, sumSq float64
	nanCount := 0
	for t := range vals {
		if math.IsNaN(vals[t]) {
			nanCount++
		} else {
			sum += vals[t]
			sumSq += vals[t] * vals[t]
		}
		if t >= n {
			old := vals[t-n]
			if math.IsNaN(old) {
				nanCount--
			} else {
				sum -= old
				sumSq -= old * old
			}
		}
		if t < n-1 || nanCount > 0 {
			out[t] = NaN
			continue
		}
		variance := (sumSq - sum*sum/float64(n)) / float64(n-1)
		if variance < 0 {
			variance = 0 // numeric noise
		}
		out[t] = math.Sqrt(variance)
	}
	return out
}

// EMA returns the exponential moving average with span n, seeded from the
// first value: out[0] = vals[0], out[t] = α·x + (1-α)·out[t-1], α = 2/(n+1).
func EMA(vals []float64, n int) []float64 {
	out := make([]float64, len(vals))
	if len(vals) == 0 {
		return out
	}
	alpha := 2.0 / float64(n+1)
	out[0] = vals[0]
	for t := 1; t < len(vals); t++ {
		if math.IsNaN(out[t-1]) {
			out[t] = vals[t]
			continue
		}
		out[t] = alpha*vals[t] + (1-alpha)*out[t-1]
	}
	return out
}
