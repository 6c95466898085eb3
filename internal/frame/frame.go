// Package frame holds candle data as plain numeric columns for indicator
// and strategy computation. Warm-up values are explicit NaNs; rolling
// extrema run in O(n) via monotonic deques.
package frame

import "math"

// Frame is a column-oriented view of a contiguous candle range,
// ordered by open time ascending.
type Frame struct {
	OpenTime []int64
	Open     []float64
	High     []float64
	Low      []float64
	Close    []float64
	Volume   []float64
}

// Row is one bar of a Frame.
type Row struct {
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Len returns the number of bars.
func (f *Frame) Len() int { return len(f.OpenTime) }

// Row returns bar t. Panics if t is out of range, like slice indexing.
func (f *Frame) Row(t int) Row {
	return Row{
		OpenTime: f.OpenTime[t],
		Open:     f.Open[t],
		High:     f.High[t],
		Low:      f.Low[t],
		Close:    f.Close[t],
		Volume:   f.Volume[t],
	}
}

// Last returns the final bar. The frame must be non-empty.
func (f *Frame) Last() Row { return f.Row(f.Len() - 1) }

// IndexOf returns the position of the bar opening at openTime, or -1.
// The frame is sorted, so this is a binary search.
func (f *Frame) IndexOf(openTime int64) int {
	lo, hi := 0, len(f.OpenTime)
	for lo < hi {
		mid := (lo + hi) / 2
		if f.OpenTime[mid] < openTime {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(f.OpenTime) && f.OpenTime[lo] == openTime {
		return lo
	}
	return -1
}

// NaN is the warm-up placeholder used throughout derived series.
var NaN = math.NaN()
