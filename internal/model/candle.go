package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SourceBinanceSpot tags candles ingested from the Binance spot endpoint.
const SourceBinanceSpot = "binance_spot"

// Candle is one OHLCV bar keyed by (symbol, interval, open_time).
// Prices and volumes are kept as the verbatim decimal strings returned by
// the venue; numeric coercion happens only when a frame is loaded.
type Candle struct {
	Symbol   string   `json:"symbol"`
	Interval Interval `json:"interval"`
	OpenTime int64    `json:"open_time"`

	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`

	CloseTime        int64  `json:"close_time"`
	QuoteAssetVolume string `json:"quote_asset_volume"`
	NumberOfTrades   int64  `json:"number_of_trades"`
	TakerBuyBaseVol  string `json:"taker_buy_base_vol"`
	TakerBuyQuoteVol string `json:"taker_buy_quote_vol"`
	IgnoreField      string `json:"-"`

	Source       string `json:"source"`
	DownloadedAt string `json:"downloaded_at"`
}

// Validate checks OHLC sanity on the verbatim strings:
// low <= min(open, close), high >= max(open, close), low > 0, and
// close_time = open_time + step − 1. Price comparison is exact (decimal),
// not float.
func (c Candle) Validate() error {
	step, err := c.Interval.StepMs()
	if err != nil {
		return err
	}
	if want := c.OpenTime + step - 1; c.CloseTime != want {
		return fmt.Errorf("candle %s/%s@%d: close_time %d, want %d", c.Symbol, c.Interval, c.OpenTime, c.CloseTime, want)
	}

	o, err := decimal.NewFromString(c.Open)
	if err != nil {
		return fmt.Errorf("candle open %q: %w", c.Open, err)
	}
	h, err := decimal.NewFromString(c.High)
	if err != nil {
		return fmt.Errorf("candle high %q: %w", c.High, err)
	}
	l, err := decimal.NewFromString(c.Low)
	if err != nil {
		return fmt.Errorf("candle low %q: %w", c.Low, err)
	}
	cl, err := decimal.NewFromString(c.Close)
	if err != nil {
		return fmt.Errorf("candle close %q: %w", c.Close, err)
	}

	if l.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("candle %s/%s@%d: low %s not positive", c.Symbol, c.Interval, c.OpenTime, c.Low)
	}
	if h.LessThan(decimal.Max(o, cl)) {
		return fmt.Errorf("candle %s/%s@%d: high %s below body", c.Symbol, c.Interval, c.OpenTime, c.High)
	}
	if l.GreaterThan(decimal.Min(o, cl)) {
		return fmt.Errorf("candle %s/%s@%d: low %s above body", c.Symbol, c.Interval, c.OpenTime, c.Low)
	}
	return nil
}

// NowISO formats a UTC timestamp the way rows are stamped throughout the
// store (RFC 3339).
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
