package store

import (
	"context"
	"time"
)

// ListSymbols returns the distinct symbols with stored candles, sorted.
func (s *Store) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT DISTINCT symbol FROM klines ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// CoverageSummaryRow is one (symbol, interval) combination's stored extent.
type CoverageSummaryRow struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Count    int64  `json:"count"`
	FromMs   int64  `json:"from_ms"`
	ToMs     int64  `json:"to_ms"`
}

// CoverageSummary returns every stored (symbol, interval) combination with
// its candle count and open_time range.
func (s *Store) CoverageSummary(ctx context.Context) ([]CoverageSummaryRow, error) {
	rows, err := s.query(ctx,
		`SELECT symbol, interval, COUNT(*), MIN(open_time), MAX(open_time)
		 FROM klines GROUP BY symbol, interval ORDER BY symbol, interval`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CoverageSummaryRow
	for rows.Next() {
		var r CoverageSummaryRow
		if err := rows.Scan(&r.Symbol, &r.Interval, &r.Count, &r.FromMs, &r.ToMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EngineStatus is the scanner/tracker overview surfaced by the API.
type EngineStatus struct {
	ActiveConfigs    int64 `json:"active_configs"`
	OpenSimTrades    int64 `json:"open_sim_trades"`
	PendingSimTrades int64 `json:"pending_sim_trades"`
	SignalsLast24h   int64 `json:"signals_last_24h"`
}

// Status counts live configs, open and pending trades, and signals emitted
// in the last 24 hours.
func (s *Store) Status(ctx context.Context) (*EngineStatus, error) {
	var st EngineStatus
	counts := []struct {
		query string
		args  []any
		dst   *int64
	}{
		{`SELECT COUNT(*) FROM signal_configs WHERE active = 1`, nil, &st.ActiveConfigs},
		{`SELECT COUNT(*) FROM sim_trades WHERE status = 'open'`, nil, &st.OpenSimTrades},
		{`SELECT COUNT(*) FROM sim_trades WHERE status = 'pending_entry'`, nil, &st.PendingSimTrades},
		{`SELECT COUNT(*) FROM signals WHERE created_at > ?`,
			[]any{time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)}, &st.SignalsLast24h},
	}
	for _, c := range counts {
		if err := s.queryRow(ctx, c.query, c.args...).Scan(c.dst); err != nil {
			return nil, err
		}
	}
	return &st, nil
}
