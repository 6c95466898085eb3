package backtest

import "math"

// Summary is the performance report over one equity curve and trade log.
// ProfitFactor and PayoffRatio are nil when the run had no losing trades.
type Summary struct {
	NetProfit      float64 `json:"net_profit"`
	NetProfitPct   float64 `json:"net_profit_pct"`
	CagrPct        float64 `json:"cagr_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	Sharpe         float64 `json:"sharpe"`
	Sortino        float64 `json:"sortino"`

	NTrades         int      `json:"n_trades"`
	WinRatePct      float64  `json:"win_rate_pct"`
	ProfitFactor    *float64 `json:"profit_factor"`
	Expectancy      float64  `json:"expectancy"`
	AvgWin          float64  `json:"avg_win"`
	AvgLoss         float64  `json:"avg_loss"`
	PayoffRatio     *float64 `json:"payoff_ratio"`
	TimeInMarketPct float64  `json:"time_in_market_pct"`

	DrawdownCurve []float64 `json:"drawdown_curve"`
}

// computeSummary derives the report from the curve and log. Annualization
// uses candles-per-year from the interval step against a 365.25-day year.
func computeSummary(equityCurve []float64, tradeLog []TradeLogEntry, initialCapital float64, stepMs int64) *Summary {
	if len(equityCurve) == 0 || initialCapital <= 0 {
		return nil
	}

	n := len(equityCurve)
	final := equityCurve[n-1]

	s := &Summary{
		NetProfit:    final - initialCapital,
		NetProfitPct: (final - initialCapital) / initialCapital * 100,
	}

	candlesPerYear := msPerYear / float64(stepMs)
	years := float64(n) / candlesPerYear
	if years > 0 && final > 0 {
		s.CagrPct = (math.Pow(final/initialCapital, 1/years) - 1) * 100
	}

	// Drawdown against the running peak.
	s.DrawdownCurve = make([]float64, n)
	runningMax := equityCurve[0]
	for i, eq := range equityCurve {
		if eq > runningMax {
			runningMax = eq
		}
		dd := (eq - runningMax) / runningMax * 100
		s.DrawdownCurve[i] = dd
		if dd < s.MaxDrawdownPct {
			s.MaxDrawdownPct = dd
		}
	}

	// Per-candle returns drive Sharpe/Sortino, annualized by sqrt of
	// candles per year. Risk-free rate is zero.
	if n > 2 {
		returns := make([]float64, 0, n-1)
		var downside []float64
		for i := 1; i < n; i++ {
			if equityCurve[i-1] == 0 {
				continue
			}
			r := (equityCurve[i] - equityCurve[i-1]) / equityCurve[i-1]
			returns = append(returns, r)
			if r < 0 {
				downside = append(downside, r)
			}
		}
		if len(returns) > 1 {
			mean, std := meanStd(returns)
			if std > 0 {
				s.Sharpe = mean / std * math.Sqrt(candlesPerYear)
			}
			if len(downside) > 1 {
				if _, dstd := meanStd(downside); dstd > 0 {
					s.Sortino = mean / dstd * math.Sqrt(candlesPerYear)
				}
			}
		}
	}

	s.NTrades = len(tradeLog)
	if s.NTrades == 0 {
		return s
	}

	var wins, losses []float64
	var pnlSum, inMarket float64
	for _, tr := range tradeLog {
		pnlSum += tr.Pnl
		if tr.Pnl > 0 {
			wins = append(wins, tr.Pnl)
		} else {
			losses = append(losses, tr.Pnl)
		}
		inMarket += float64(tr.DurationCandles)
	}

	s.WinRatePct = float64(len(wins)) / float64(s.NTrades) * 100
	s.Expectancy = pnlSum / float64(s.NTrades)
	s.TimeInMarketPct = inMarket / float64(n) * 100

	var grossProfit, grossLoss float64
	for _, w := range wins {
		grossProfit += w
		s.AvgWin += w
	}
	for _, l := range losses {
		grossLoss += -l
		s.AvgLoss += l
	}
	if len(wins) > 0 {
		s.AvgWin /= float64(len(wins))
	}
	if len(losses) > 0 {
		s.AvgLoss /= float64(len(losses))
	}
	if grossLoss > 0 {
		pf := grossProfit / grossLoss
		s.ProfitFactor = &pf
	}
	if s.AvgLoss != 0 {
		pr := math.Abs(s.AvgWin / s.AvgLoss)
		s.PayoffRatio = &pr
	}
	return s
}

const msPerYear = 365.25 * 24 * 3600 * 1000

// meanStd returns the mean and population standard deviation.
func meanStd(xs []float64) (mean, std float64) {
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}
