package strategy

import (
	"math"
	"testing"

	"trading-tools/internal/frame"
)

const dayMs = int64(86_400_000)

// makeFrame builds a daily test frame. Highs default to close+1 and lows
// to close-1 when not given.
func makeFrame(closes []float64, highs, lows []float64) *frame.Frame {
	n := len(closes)
	if highs == nil {
		highs = make([]float64, n)
		for i, c := range closes {
			highs[i] = c + 1
		}
	}
	if lows == nil {
		lows = make([]float64, n)
		for i, c := range closes {
			lows[i] = c - 1
		}
	}
	f := &frame.Frame{
		OpenTime: make([]int64, n),
		Open:     make([]float64, n),
		High:     highs,
		Low:      lows,
		Close:    closes,
		Volume:   make([]float64, n),
	}
	for i := range closes {
		f.OpenTime[i] = int64(i) * dayMs
		f.Open[i] = closes[i]
		f.Volume[i] = 1000
	}
	return f
}

func TestBreakout_LongEntryOnBreakout(t *testing.T) {
	// Ten flat bars at 10, then a close at 20 breaking the 5-bar high.
	closes := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 20}
	f := makeFrame(closes, nil, nil)

	b := &Breakout{}
	if err := b.Init(Params{"N_entrada": 5.0, "M_salida": 3.0, "stop_pct": 0.02}, f); err != nil {
		t.Fatalf("init: %v", err)
	}

	sigs := b.OnCandle(10, f.Row(10), Flat())
	if len(sigs) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(sigs))
	}
	if sigs[0].Action != ActionEntryLong {
		t.Fatalf("expected entry_long, got %s", sigs[0].Action)
	}

	// min_prev = min(lows[5..9]) = 9; stop = 9 * (1 - 0.02)
	wantStop := 9.0 * 0.98
	if math.Abs(sigs[0].StopPrice-wantStop) > 1e-9 {
		t.Errorf("stop price = %v, want %v", sigs[0].StopPrice, wantStop)
	}
}

func TestBreakout_WarmupEmitsNothing(t *testing.T) {
	closes := []float64{10, 11, 12, 13, 14, 15}
	f := makeFrame(closes, nil, nil)

	b := &Breakout{}
	if err := b.Init(Params{"N_entrada": 5.0, "M_salida": 3.0}, f); err != nil {
		t.Fatalf("init: %v", err)
	}

	// Shifted 5-bar window is only full from t=5; everything before is warmup.
	for tt := 0; tt < 5; tt++ {
		if sigs := b.OnCandle(tt, f.Row(tt), Flat()); len(sigs) != 0 {
			t.Errorf("warmup bar %d emitted %v", tt, sigs)
		}
	}
}

func TestBreakout_PenultimateWarmupBarStaysSilent(t *testing.T) {
	// Bar 4 closes above every earlier high, but with N_entrada=5 only four
	// prior bars exist: the level is still undefined and nothing may fire.
	closes := []float64{10, 11, 12, 13, 25}
	f := makeFrame(closes, nil, nil)

	b := &Breakout{}
	if err := b.Init(Params{"N_entrada": 5.0, "M_salida": 3.0, "stop_pct": 0.02}, f); err != nil {
		t.Fatalf("init: %v", err)
	}

	if sigs := b.OnCandle(4, f.Row(4), Flat()); len(sigs) != 0 {
		t.Fatalf("bar before lookback filled emitted %v", sigs)
	}
}

func TestBreakout_StopBeatsExit(t *testing.T) {
	closes := []float64{10, 10, 10, 10, 10, 10, 10, 10}
	lows := []float64{9, 9, 9, 9, 9, 9, 9, 5} // last bar pierces any stop
	f := makeFrame(closes, nil, lows)

	b := &Breakout{}
	if err := b.Init(Params{"N_entrada": 5.0, "M_salida": 3.0}, f); err != nil {
		t.Fatalf("init: %v", err)
	}

	state := PositionState{Side: "long", EntryPrice: 10, StopPrice: 8.5, Quantity: 1}
	sigs := b.OnCandle(7, f.Row(7), state)
	if len(sigs) != 1 || sigs[0].Action != ActionStopLong {
		t.Fatalf("expected stop_long only, got %v", sigs)
	}
	if sigs[0].Price != 8.5 {
		t.Errorf("stop executes at stop price, got %v", sigs[0].Price)
	}
}

func TestBreakout_ExitLongOnCloseBelowExitLevel(t *testing.T) {
	closes := []float64{10, 10, 10, 10, 10, 10, 10, 2}
	f := makeFrame(closes, nil, nil)

	b := &Breakout{}
	if err := b.Init(Params{"N_entrada": 5.0, "M_salida": 3.0}, f); err != nil {
		t.Fatalf("init: %v", err)
	}

	// Stop far away so the exit path is what fires.
	state := PositionState{Side: "long", EntryPrice: 10, StopPrice: 0.5, Quantity: 1}
	sigs := b.OnCandle(7, f.Row(7), state)
	if len(sigs) != 1 || sigs[0].Action != ActionExitLong {
		t.Fatalf("expected exit_long, got %v", sigs)
	}
}

func TestBreakout_ShortEntryAndDirectionToggle(t *testing.T) {
	closes := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 3}
	f := makeFrame(closes, nil, nil)

	// Shorts disabled: breakdown must be ignored.
	b := &Breakout{}
	if err := b.Init(Params{"N_entrada": 5.0, "M_salida": 3.0, "habilitar_short": false}, f); err != nil {
		t.Fatalf("init: %v", err)
	}
	if sigs := b.OnCandle(10, f.Row(10), Flat()); len(sigs) != 0 {
		t.Fatalf("disabled short still emitted %v", sigs)
	}

	// Enabled: entry_short with stop above max_prev.
	b2 := &Breakout{}
	if err := b2.Init(Params{"N_entrada": 5.0, "M_salida": 3.0, "stop_pct": 0.02}, f); err != nil {
		t.Fatalf("init: %v", err)
	}
	sigs := b2.OnCandle(10, f.Row(10), Flat())
	if len(sigs) != 1 || sigs[0].Action != ActionEntryShort {
		t.Fatalf("expected entry_short, got %v", sigs)
	}
	wantStop := 11.0 * 1.02 // max_prev = 11
	if math.Abs(sigs[0].StopPrice-wantStop) > 1e-9 {
		t.Errorf("short stop = %v, want %v", sigs[0].StopPrice, wantStop)
	}
}

func TestParams_CanonicalIsOrderIndependent(t *testing.T) {
	a, err := ParseParams(`{"b": 2, "a": 1}`)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseParams(`{"a": 1, "b": 2}`)
	if err != nil {
		t.Fatal(err)
	}
	if a.Canonical() != b.Canonical() {
		t.Errorf("canonical forms differ: %q vs %q", a.Canonical(), b.Canonical())
	}
}

func TestRegistry_UnknownStrategy(t *testing.T) {
	if _, err := New("no_such_strategy"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
	if len(List()) != 2 {
		t.Fatalf("expected 2 registered strategies, got %d", len(List()))
	}
}
