package strategy

import (
	"math"
	"testing"
)

func TestComputeZigzag_ConfirmsLevelsAfterReversal(t *testing.T) {
	// Rally to 110, drop >5% confirms resistance 110; fall to 90 then a
	// >5% bounce confirms support 90.
	highs := []float64{100, 105, 110, 104, 98, 92, 91, 97}
	lows := []float64{99, 104, 109, 103, 97, 91, 90, 96}

	support, resistance := computeZigzag(highs, lows, 0.05)

	if !math.IsNaN(resistance[2]) {
		t.Errorf("resistance confirmed too early at t=2: %v", resistance[2])
	}
	// 104.5 = 110*(1-0.05); low at t=4 (97) breaches it first.
	if resistance[4] != 110 {
		t.Errorf("resistance at t=4 = %v, want 110", resistance[4])
	}
	if !math.IsNaN(support[5]) {
		t.Errorf("support confirmed before bounce at t=5: %v", support[5])
	}
	// Running low 90; 90*1.05 = 94.5; high at t=7 (97) confirms it.
	if support[7] != 90 {
		t.Errorf("support at t=7 = %v, want 90", support[7])
	}
}

func TestSupportResistance_NoSignalsUntilBothLevels(t *testing.T) {
	highs := []float64{100, 105, 110, 104, 98}
	lows := []float64{99, 104, 109, 103, 97}
	f := makeFrame([]float64{99, 104, 109, 103, 97}, highs, lows)

	s := &SupportResistance{}
	if err := s.Init(Params{"reversal_pct": 0.05}, f); err != nil {
		t.Fatalf("init: %v", err)
	}

	// Only resistance is confirmed by t=4; support is still NaN.
	for tt := 0; tt < 5; tt++ {
		if sigs := s.OnCandle(tt, f.Row(tt), Flat()); len(sigs) != 0 {
			t.Errorf("bar %d emitted %v before both levels confirmed", tt, sigs)
		}
	}
}

func TestSupportResistance_LongEntryBreakingResistance(t *testing.T) {
	// Levels confirm as resistance=110, support=90; then close 115 breaks out.
	highs := []float64{100, 110, 104, 92, 97, 116}
	lows := []float64{99, 109, 103, 90, 96, 114}
	closes := []float64{99, 109, 103, 91, 96, 115}
	f := makeFrame(closes, highs, lows)

	s := &SupportResistance{}
	if err := s.Init(Params{"reversal_pct": 0.05, "stop_pct": 0.02}, f); err != nil {
		t.Fatalf("init: %v", err)
	}

	sigs := s.OnCandle(5, f.Row(5), Flat())
	if len(sigs) != 1 || sigs[0].Action != ActionEntryLong {
		t.Fatalf("expected entry_long, got %v", sigs)
	}
	wantStop := 90.0 * 0.98
	if math.Abs(sigs[0].StopPrice-wantStop) > 1e-9 {
		t.Errorf("stop = %v, want %v", sigs[0].StopPrice, wantStop)
	}
}

func TestSupportResistance_ExitLongBelowSupport(t *testing.T) {
	highs := []float64{100, 110, 104, 92, 97, 97}
	lows := []float64{99, 109, 103, 90, 96, 88}
	closes := []float64{99, 109, 103, 91, 96, 89}
	f := makeFrame(closes, highs, lows)

	s := &SupportResistance{}
	if err := s.Init(Params{"reversal_pct": 0.05}, f); err != nil {
		t.Fatalf("init: %v", err)
	}

	// Stop far below support so the exit path fires on close < support(90).
	state := PositionState{Side: "long", EntryPrice: 100, StopPrice: 10, Quantity: 1}
	sigs := s.OnCandle(5, f.Row(5), state)
	if len(sigs) != 1 || sigs[0].Action != ActionExitLong {
		t.Fatalf("expected exit_long, got %v", sigs)
	}
}
