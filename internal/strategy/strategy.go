// Package strategy defines the trading-strategy contract and the two
// reference strategies.
//
// A Strategy precomputes per-bar state from a candle frame in Init and
// emits entry/exit/stop signals per bar in OnCandle. Init must not look
// ahead of the bar being evaluated; OnCandle is a pure function of the
// precomputed state, the current bar, and the caller-provided position.
package strategy

import (
	"encoding/json"
	"fmt"
	"strconv"

	"trading-tools/internal/frame"
	"trading-tools/internal/model"
)

// Action tags one strategy decision.
type Action string

const (
	ActionEntryLong  Action = "entry_long"
	ActionEntryShort Action = "entry_short"
	ActionExitLong   Action = "exit_long"
	ActionExitShort  Action = "exit_short"
	ActionStopLong   Action = "stop_long"
	ActionStopShort  Action = "stop_short"
)

// IsEntry reports whether the action opens a position.
func (a Action) IsEntry() bool { return a == ActionEntryLong || a == ActionEntryShort }

// IsStop reports whether the action is a stop-loss execution.
func (a Action) IsStop() bool { return a == ActionStopLong || a == ActionStopShort }

// IsExit reports whether the action is a close-based exit.
func (a Action) IsExit() bool { return a == ActionExitLong || a == ActionExitShort }

// Signal is one decision for the bar under evaluation.
// Price is the suggested execution price (0 = use next open);
// StopPrice accompanies entries.
type Signal struct {
	Action    Action
	Price     float64
	StopPrice float64
}

// PositionState describes the caller's current position when a bar is
// evaluated. Flat state has Side "flat" and zero values elsewhere.
type PositionState struct {
	Side       string // "long", "short", "flat"
	EntryPrice float64
	EntryTime  int64
	StopPrice  float64
	Quantity   float64
}

// Flat returns the no-position state.
func Flat() PositionState { return PositionState{Side: "flat"} }

// ParamDef describes one tunable parameter for the UI catalog.
type ParamDef struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // int, float, bool, str
	Default     any    `json:"default"`
	Min         any    `json:"min,omitempty"`
	Max         any    `json:"max,omitempty"`
	Description string `json:"description"`
}

// Strategy is the contract every engine drives.
type Strategy interface {
	Name() string
	Description() string
	Parameters() []ParamDef

	// Init precomputes per-bar arrays from the frame. Causal only:
	// nothing derived at bar t may depend on bars after t.
	Init(params Params, f *frame.Frame) error

	// OnCandle returns the signals for bar t given the current position.
	OnCandle(t int, row frame.Row, state PositionState) []Signal
}

// Params is a decoded strategy parameter object. Values arrive from JSON,
// so numbers are float64 and need coercion helpers.
type Params map[string]any

// ParseParams decodes a params JSON document ("" and "{}" are empty).
func ParseParams(raw string) (Params, error) {
	if raw == "" {
		return Params{}, nil
	}
	var p Params
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: params: %v", model.ErrBadInput, err)
	}
	return p, nil
}

// Canonical re-encodes params with sorted keys so equal parameter sets
// hash to the same string regardless of input ordering. This string is
// what the config unique index and tracker grouping key on.
func (p Params) Canonical() string {
	if len(p) == 0 {
		return "{}"
	}
	b, err := json.Marshal(map[string]any(p)) // Go sorts map keys
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Float reads a numeric parameter with a default.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Int reads an integer parameter with a default.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// Bool reads a boolean parameter with a default.
func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// String reads a string parameter with a default.
func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}
