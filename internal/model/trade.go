package model

// TradeStatus is the lifecycle state of a simulated trade.
type TradeStatus string

const (
	TradePendingEntry TradeStatus = "pending_entry"
	TradeOpen         TradeStatus = "open"
	TradeClosed       TradeStatus = "closed"
)

// Exit reasons written on terminal trades.
const (
	ExitReasonStopIntrabar = "stop_intrabar"
	ExitReasonSignal       = "exit_signal"
	ExitReasonManual       = "manual"
)

// SimTrade is the simulated execution of a Signal through its
// entry → exit life-cycle. 1:1 with the signal that produced it.
type SimTrade struct {
	ID       int64    `json:"id"`
	SignalID int64    `json:"signal_id"`
	ConfigID int64    `json:"config_id"`
	Symbol   string   `json:"symbol"`
	Interval Interval `json:"interval"`
	Side     Side     `json:"side"`

	EntryPrice *float64 `json:"entry_price,omitempty"`
	EntryTime  *int64   `json:"entry_time,omitempty"`

	StopBase    float64 `json:"stop_base"`
	StopTrigger float64 `json:"stop_trigger"`

	ExitPrice  *float64 `json:"exit_price,omitempty"`
	ExitTime   *int64   `json:"exit_time,omitempty"`
	ExitReason *string  `json:"exit_reason,omitempty"`

	Status TradeStatus `json:"status"`

	Portfolio      float64  `json:"portfolio"`
	InvestedAmount float64  `json:"invested_amount"`
	Leverage       float64  `json:"leverage"`
	Quantity       *float64 `json:"quantity,omitempty"`

	Pnl        *float64 `json:"pnl,omitempty"`
	PnlPct     *float64 `json:"pnl_pct,omitempty"`
	Fees       float64  `json:"fees"`
	EquityPeak *float64 `json:"equity_peak,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// GrossPnl is quantity * price distance, signed by side.
func GrossPnl(side Side, quantity, entryPrice, exitPrice float64) float64 {
	if side == SideShort {
		return quantity * (entryPrice - exitPrice)
	}
	return quantity * (exitPrice - entryPrice)
}

// RealTrade is user-entered bookkeeping for comparison against a SimTrade.
// The engines never mutate these rows.
type RealTrade struct {
	ID         int64    `json:"id"`
	SimTradeID *int64   `json:"sim_trade_id,omitempty"`
	SignalID   *int64   `json:"signal_id,omitempty"`
	Symbol     string   `json:"symbol"`
	Side       Side     `json:"side"`
	EntryPrice float64  `json:"entry_price"`
	EntryTime  string   `json:"entry_time"`
	ExitPrice  *float64 `json:"exit_price,omitempty"`
	ExitTime   *string  `json:"exit_time,omitempty"`
	Quantity   float64  `json:"quantity"`
	Fees       float64  `json:"fees"`
	Pnl        *float64 `json:"pnl,omitempty"`
	PnlPct     *float64 `json:"pnl_pct,omitempty"`
	Notes      *string  `json:"notes,omitempty"`
	Status     string   `json:"status"`
	CreatedAt  string   `json:"created_at"`
	UpdatedAt  string   `json:"updated_at"`
}

// NotificationEntry is one at-most-once side-effect record, unique on
// (event_type, reference_type, reference_id).
type NotificationEntry struct {
	ID            int64  `json:"id"`
	EventType     string `json:"event_type"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   int64  `json:"reference_id"`
	Message       string `json:"message"`
	SentAt        string `json:"sent_at"`
}
