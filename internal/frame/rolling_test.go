package frame

import (
	"math"
	"testing"
)

func TestRollingMax_WarmupAndValues(t *testing.T) {
	vals := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	got := RollingMax(vals, 3)

	for i := 0; i < 2; i++ {
		if !math.IsNaN(got[i]) {
			t.Errorf("expected NaN at warmup index %d, got %v", i, got[i])
		}
	}

	want := []float64{4, 4, 5, 9, 9, 9}
	for i, w := range want {
		if got[i+2] != w {
			t.Errorf("RollingMax[%d] = %v, want %v", i+2, got[i+2], w)
		}
	}
}

func TestRollingMin_Values(t *testing.T) {
	vals := []float64{5, 4, 3, 6, 7, 1}
	got := RollingMin(vals, 2)

	want := []float64{4, 3, 3, 6, 1}
	for i, w := range want {
		if got[i+1] != w {
			t.Errorf("RollingMin[%d] = %v, want %v", i+1, got[i+1], w)
		}
	}
}

func TestShift_PrependsNaN(t *testing.T) {
	got := Shift([]float64{1, 2, 3})
	if !math.IsNaN(got[0]) {
		t.Errorf("expected NaN at index 0, got %v", got[0])
	}
	if got[1] != 1 || got[2] != 2 {
		t.Errorf("unexpected shifted values: %v", got)
	}
}

func TestShiftedRollingMax_ExcludesCurrentBar(t *testing.T) {
	// Window over the N bars BEFORE t: the current value must not leak in.
	vals := []float64{1, 2, 3, 100}
	got := RollingMax(Shift(vals), 3)

	// The shifted series only has 3 prior values from t=3 on; t=2 still
	// holds the leading NaN and must not resolve to a short window.
	if !math.IsNaN(got[2]) {
		t.Errorf("shifted rolling max at t=2 = %v, want NaN", got[2])
	}
	// At t=3 the window is vals[0..2] = max 3, not 100.
	if got[3] != 3 {
		t.Errorf("shifted rolling max at t=3 = %v, want 3", got[3])
	}
}

func TestRollingExtreme_NaNWindowStaysNaN(t *testing.T) {
	vals := []float64{5, NaN, 3, 4, 2}
	gotMax := RollingMax(vals, 2)
	gotMin := RollingMin(vals, 2)

	for i := 1; i <= 2; i++ {
		if !math.IsNaN(gotMax[i]) || !math.IsNaN(gotMin[i]) {
			t.Errorf("windows containing NaN should be NaN, got max=%v min=%v at %d",
				gotMax[i], gotMin[i], i)
		}
	}
	if gotMax[3] != 4 || gotMin[3] != 3 {
		t.Errorf("post-NaN window = max %v min %v, want 4 and 3", gotMax[3], gotMin[3])
	}
}

func TestRollingMean_RunningSum(t *testing.T) {
	vals := []float64{2, 4, 6, 8}
	got := RollingMean(vals, 2)

	if !math.IsNaN(got[0]) {
		t.Errorf("expected warmup NaN, got %v", got[0])
	}
	want := []float64{3, 5, 7}
	for i, w := range want {
		if math.Abs(got[i+1]-w) > 1e-12 {
			t.Errorf("RollingMean[%d] = %v, want %v", i+1, got[i+1], w)
		}
	}
}

func TestRollingMean_NaNWindowStaysNaN(t *testing.T) {
	vals := []float64{1, NaN, 3, 4, 5}
	got := RollingMean(vals, 2)

	if !math.IsNaN(got[1]) || !math.IsNaN(got[2]) {
		t.Errorf("windows containing NaN should be NaN, got %v %v", got[1], got[2])
	}
	if math.Abs(got[3]-3.5) > 1e-12 {
		t.Errorf("RollingMean[3] = %v, want 3.5", got[3])
	}
}

func TestRollingStd_ConstantSeriesIsZero(t *testing.T) {
	vals := []float64{7, 7, 7, 7, 7}
	got := RollingStd(vals, 3)
	for i := 2; i < len(got); i++ {
		if got[i] != 0 {
			t.Errorf("std of constant series at %d = %v, want 0", i, got[i])
		}
	}
}

func TestRollingStd_KnownValue(t *testing.T) {
	// Sample std of {1,2,3} = 1.
	got := RollingStd([]float64{1, 2, 3}, 3)
	want := 1.0
	if math.Abs(got[2]-want) > 1e-12 {
		t.Errorf("RollingStd[2] = %v, want %v", got[2], want)
	}
}

func TestEMA_SeedAndRecursion(t *testing.T) {
	// span 3 → alpha 0.5
	got := EMA([]float64{2, 4, 8}, 3)
	if got[0] != 2 {
		t.Errorf("EMA[0] = %v, want 2", got[0])
	}
	if got[1] != 3 { // 0.5*4 + 0.5*2
		t.Errorf("EMA[1] = %v, want 3", got[1])
	}
	if got[2] != 5.5 { // 0.5*8 + 0.5*3
		t.Errorf("EMA[2] = %v, want 5.5", got[2])
	}
}

func TestFrame_IndexOf(t *testing.T) {
	f := &Frame{OpenTime: []int64{100, 200, 300}}
	if got := f.IndexOf(200); got != 1 {
		t.Errorf("IndexOf(200) = %d, want 1", got)
	}
	if got := f.IndexOf(250); got != -1 {
		t.Errorf("IndexOf(250) = %d, want -1", got)
	}
}
