package model

// Side of a position or signal.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// SignalStatus is the lifecycle state of an emitted signal.
type SignalStatus string

const (
	SignalPending SignalStatus = "pending" // just emitted, entry not filled
	SignalActive  SignalStatus = "active"  // entry filled
	SignalClosed  SignalStatus = "closed"  // exit or stop executed
)

// SignalConfig is one live-scanned (symbol, interval, strategy, params)
// combination. Params are opaque to the engines and interpreted by the
// strategy; uniqueness is on the canonical params JSON.
type SignalConfig struct {
	ID             int64    `json:"id"`
	Symbol         string   `json:"symbol"`
	Interval       Interval `json:"interval"`
	Strategy       string   `json:"strategy"`
	Params         string   `json:"params"` // canonical JSON
	StopCrossPct   float64  `json:"stop_cross_pct"`
	Portfolio      float64  `json:"portfolio"`
	InvestedAmount *float64 `json:"invested_amount,omitempty"`
	Leverage       *float64 `json:"leverage,omitempty"`
	CostBps        float64  `json:"cost_bps"`
	PollingSeconds *int64   `json:"polling_interval_s,omitempty"`
	Active         bool     `json:"active"`

	// LastProcessedCandle is the scanner watermark: the open_time of the
	// last closed candle already evaluated. Advances monotonically.
	LastProcessedCandle int64 `json:"last_processed_candle"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ResolveSizing derives (invested, leverage) from a config per the sizing
// rules: an explicit invested amount wins and implies leverage; an explicit
// leverage implies invested; otherwise leverage 1 on the full portfolio.
func (c *SignalConfig) ResolveSizing() (invested, leverage float64) {
	switch {
	case c.InvestedAmount != nil:
		invested = *c.InvestedAmount
		if c.Portfolio > 0 {
			leverage = invested / c.Portfolio
		} else {
			leverage = 1
		}
	case c.Leverage != nil:
		leverage = *c.Leverage
		invested = c.Portfolio * leverage
	default:
		leverage = 1
		invested = c.Portfolio
	}
	return invested, leverage
}

// StopTrigger widens the base stop by the cross band: the trigger sits
// below the stop for longs and above it for shorts.
func StopTrigger(side Side, stopPrice, stopCrossPct float64) float64 {
	if side == SideShort {
		return stopPrice * (1 + stopCrossPct)
	}
	return stopPrice * (1 - stopCrossPct)
}

// Signal is a strategy-emitted entry decision tied to a specific closed
// candle. Unique on (config_id, trigger_candle_time).
type Signal struct {
	ID                int64        `json:"id"`
	ConfigID          int64        `json:"config_id"`
	Symbol            string       `json:"symbol"`
	Interval          Interval     `json:"interval"`
	Strategy          string       `json:"strategy"`
	Side              Side         `json:"side"`
	TriggerCandleTime int64        `json:"trigger_candle_time"`
	StopPrice         float64      `json:"stop_price"`
	StopTriggerPrice  float64      `json:"stop_trigger_price"`
	Status            SignalStatus `json:"status"`
	CreatedAt         string       `json:"created_at"`
}
