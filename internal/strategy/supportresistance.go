package strategy

import (
	"math"

	"trading-tools/internal/frame"
)

// SupportResistance trades breakouts of zig-zag swing levels. A swing high
// becomes resistance once price retraces reversal_pct from it; a swing low
// becomes support symmetrically. Entries break through a level, exits
// break back through the opposite one.
type SupportResistance struct {
	params Params

	// Last confirmed levels as of each bar (NaN until first confirmation).
	support    []float64
	resistance []float64
}

func (s *SupportResistance) Name() string { return "support_resistance" }

func (s *SupportResistance) Description() string {
	return "Swing support/resistance via causal zig-zag. Confirms a swing high " +
		"(resistance) or swing low (support) once price reverses reversal_pct from " +
		"the running extreme. Entry long breaking resistance, short breaking support; " +
		"exit on breaking the opposite level; percentage stop on the level."
}

func (s *SupportResistance) Parameters() []ParamDef {
	return []ParamDef{
		{Name: "reversal_pct", Type: "float", Default: 0.03, Min: 0.005, Max: 0.5,
			Description: "Minimum % reversal from extreme to confirm a swing point (e.g. 0.03 = 3%)"},
		{Name: "stop_pct", Type: "float", Default: 0.02, Min: 0.001, Max: 0.5,
			Description: "Stop loss percentage from support/resistance level"},
		{Name: "modo_ejecucion", Type: "str", Default: "open_next",
			Description: "Execution mode: 'open_next' or 'close_current'"},
		{Name: "habilitar_long", Type: "bool", Default: true,
			Description: "Enable long entries"},
		{Name: "habilitar_short", Type: "bool", Default: true,
			Description: "Enable short entries"},
		{Name: "coste_total_bps", Type: "float", Default: 10.0, Min: 0.0, Max: 100.0,
			Description: "Round-trip transaction cost in basis points"},
	}
}

// computeZigzag walks the bars once, tracking the running extreme in the
// current direction and confirming it as a level when price reverses far
// enough. Strictly causal: levels at t depend only on bars ≤ t.
func computeZigzag(highs, lows []float64, reversalPct float64) (support, resistance []float64) {
	n := len(highs)
	support = make([]float64, n)
	resistance = make([]float64, n)
	if n == 0 {
		return support, resistance
	}

	direction := "up" // tracking towards a potential swing high
	currentHigh := highs[0]
	currentLow := lows[0]
	confirmedSupport := frame.NaN
	confirmedResistance := frame.NaN

	for t := 0; t < n; t++ {
		h, l := highs[t], lows[t]

		if direction == "up" {
			if h > currentHigh {
				currentHigh = h
			}
			if currentHigh > 0 && l <= currentHigh*(1-reversalPct) {
				confirmedResistance = currentHigh
				direction = "down"
				currentLow = l
			}
		} else {
			if l < currentLow {
				currentLow = l
			}
			if currentLow > 0 && h >= currentLow*(1+reversalPct) {
				confirmedSupport = currentLow
				direction = "up"
				currentHigh = h
			}
		}

		support[t] = confirmedSupport
		resistance[t] = confirmedResistance
	}
	return support, resistance
}

func (s *SupportResistance) Init(params Params, f *frame.Frame) error {
	s.params = params
	reversalPct := params.Float("reversal_pct", 0.03)
	s.support, s.resistance = computeZigzag(f.High, f.Low, reversalPct)
	return nil
}

func (s *SupportResistance) OnCandle(t int, row frame.Row, state PositionState) []Signal {
	enableLong := s.params.Bool("habilitar_long", true)
	enableShort := s.params.Bool("habilitar_short", true)
	stopPct := s.params.Float("stop_pct", 0.02)

	support := s.support[t]
	resistance := s.resistance[t]

	// Both levels must be confirmed before any signal.
	if math.IsNaN(support) || math.IsNaN(resistance) {
		return nil
	}

	switch state.Side {
	case "long":
		if row.Low <= state.StopPrice {
			return []Signal{{Action: ActionStopLong, Price: state.StopPrice}}
		}
		if row.Close < support {
			return []Signal{{Action: ActionExitLong, Price: row.Close}}
		}
		return nil

	case "short":
		if row.High >= state.StopPrice {
			return []Signal{{Action: ActionStopShort, Price: state.StopPrice}}
		}
		if row.Close > resistance {
			return []Signal{{Action: ActionExitShort, Price: row.Close}}
		}
		return nil
	}

	if enableLong && row.Close > resistance {
		return []Signal{{
			Action:    ActionEntryLong,
			Price:     row.Close,
			StopPrice: support * (1 - stopPct),
		}}
	}
	if enableShort && row.Close < support {
		return []Signal{{
			Action:    ActionEntryShort,
			Price:     row.Close,
			StopPrice: resistance * (1 + stopPct),
		}}
	}
	return nil
}
