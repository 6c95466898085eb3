package strategy

import (
	"math"

	"trading-tools/internal/frame"
)

// Breakout enters when the close breaks the extreme of the previous
// N_entrada bars and exits when it breaks back through the extreme of the
// previous M_salida bars. The stop sits a percentage beyond the opposite
// entry level.
type Breakout struct {
	params Params

	// Per-bar levels over the N/M bars BEFORE t (current bar excluded).
	maxPrev []float64
	minPrev []float64
	maxExit []float64
	minExit []float64
}

func (b *Breakout) Name() string { return "breakout" }

func (b *Breakout) Description() string {
	return "Close breakout with percentage stop. Entry when Close breaks the " +
		"N-candle High (long) or Low (short); stop at MinPrev*(1-stop_pct) / " +
		"MaxPrev*(1+stop_pct); exit when Close breaks the M-candle opposite extreme."
}

func (b *Breakout) Parameters() []ParamDef {
	return []ParamDef{
		{Name: "N_entrada", Type: "int", Default: 20, Min: 2, Max: 500,
			Description: "Lookback window for breakout detection (exclusive of current candle)"},
		{Name: "M_salida", Type: "int", Default: 10, Min: 1, Max: 500,
			Description: "Lookback window for exit signal"},
		{Name: "stop_pct", Type: "float", Default: 0.02, Min: 0.001, Max: 0.5,
			Description: "Stop loss percentage from entry reference level"},
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

func (b *Breakout) Init(params Params, f *frame.Frame) error {
	b.params = params
	n := params.Int("N_entrada", 20)
	m := params.Int("M_salida", 10)

	// Shift excludes the current bar: levels at t cover [t-N, t-1].
	prevHigh := frame.Shift(f.High)
	prevLow := frame.Shift(f.Low)

	b.maxPrev = frame.RollingMax(prevHigh, n)
	b.minPrev = frame.RollingMin(prevLow, n)
	b.maxExit = frame.RollingMax(prevHigh, m)
	b.minExit = frame.RollingMin(prevLow, m)
	return nil
}

func (b *Breakout) OnCandle(t int, row frame.Row, state PositionState) []Signal {
	enableLong := b.params.Bool("habilitar_long", true)
	enableShort := b.params.Bool("habilitar_short", true)
	stopPct := b.params.Float("stop_pct", 0.02)

	maxPrev := b.maxPrev[t]
	minPrev := b.minPrev[t]
	maxExit := b.maxExit[t]
	minExit := b.minExit[t]

	// Warm-up: no signals until every level is defined.
	if math.IsNaN(maxPrev) || math.IsNaN(minPrev) || math.IsNaN(maxExit) || math.IsNaN(minExit) {
		return nil
	}

	switch state.Side {
	case "long":
		// Stop first (intrabar, triggered on Low), then exit on close.
		if row.Low <= state.StopPrice {
			return []Signal{{Action: ActionStopLong, Price: state.StopPrice}}
		}
		if row.Close < minExit {
			return []Signal{{Action: ActionExitLong, Price: row.Close}}
		}
		return nil

	case "short":
		if row.High >= state.StopPrice {
			return []Signal{{Action: ActionStopShort, Price: state.StopPrice}}
		}
		if row.Close > maxExit {
			return []Signal{{Action: ActionExitShort, Price: row.Close}}
		}
		return nil
	}

	// Flat: at most one entry per bar.
	if enableLong && row.Close > maxPrev {
		return []Signal{{
			Action:    ActionEntryLong,
			Price:     row.Close,
			StopPrice: minPrev * (1 - stopPct),
		}}
	}
	if enableShort && row.Close < minPrev {
		return []Signal{{
			Action:    ActionEntryShort,
			Price:     row.Close,
			StopPrice: maxPrev * (1 + stopPct),
		}}
	}
	return nil
}
