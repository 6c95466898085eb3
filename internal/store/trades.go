package store

import (
	"context"
	"database/sql"

	"trading-tools/internal/model"
)

const tradeColumns = `id, signal_id, config_id, symbol, interval, side,
	entry_price, entry_time, stop_base, stop_trigger,
	exit_price, exit_time, exit_reason, status,
	portfolio, invested_amount, leverage, quantity,
	pnl, pnl_pct, fees, equity_peak, created_at, updated_at`

func scanTrade(row interface{ Scan(...any) error }) (*model.SimTrade, error) {
	var t model.SimTrade
	var iv, side, status string
	var entryPrice, exitPrice, quantity, pnl, pnlPct, equityPeak sql.NullFloat64
	var entryTime, exitTime sql.NullInt64
	var exitReason sql.NullString
	var fees sql.NullFloat64
	err := row.Scan(&t.ID, &t.SignalID, &t.ConfigID, &t.Symbol, &iv, &side,
		&entryPrice, &entryTime, &t.StopBase, &t.StopTrigger,
		&exitPrice, &exitTime, &exitReason, &status,
		&t.Portfolio, &t.InvestedAmount, &t.Leverage, &quantity,
		&pnl, &pnlPct, &fees, &equityPeak, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Interval = model.Interval(iv)
	t.Side = model.Side(side)
	t.Status = model.TradeStatus(status)
	if entryPrice.Valid {
		t.EntryPrice = &entryPrice.Float64
	}
	if entryTime.Valid {
		t.EntryTime = &entryTime.Int64
	}
	if exitPrice.Valid {
		t.ExitPrice = &exitPrice.Float64
	}
	if exitTime.Valid {
		t.ExitTime = &exitTime.Int64
	}
	if exitReason.Valid {
		t.ExitReason = &exitReason.String
	}
	if quantity.Valid {
		t.Quantity = &quantity.Float64
	}
	if pnl.Valid {
		t.Pnl = &pnl.Float64
	}
	if pnlPct.Valid {
		t.PnlPct = &pnlPct.Float64
	}
	if fees.Valid {
		t.Fees = fees.Float64
	}
	if equityPeak.Valid {
		t.EquityPeak = &equityPeak.Float64
	}
	return &t, nil
}

// GetTrade fetches one sim trade, ErrNotFound when absent.
func (s *Store) GetTrade(ctx context.Context, id int64) (*model.SimTrade, error) {
	t, err := scanTrade(s.queryRow(ctx,
		`SELECT `+tradeColumns+` FROM sim_trades WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	return t, err
}

// TradesByStatus returns all trades in the given state, oldest first. The
// tracker drives its passes off pending_entry and open.
func (s *Store) TradesByStatus(ctx context.Context, status model.TradeStatus) ([]model.SimTrade, error) {
	rows, err := s.query(ctx,
		`SELECT `+tradeColumns+` FROM sim_trades WHERE status = ? ORDER BY id ASC`,
		string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SimTrade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ListTrades returns trades newest first, optionally filtered by config
// and status.
func (s *Store) ListTrades(ctx context.Context, configID int64, status model.TradeStatus, limit int) ([]model.SimTrade, error) {
	q := `SELECT ` + tradeColumns + ` FROM sim_trades WHERE 1=1`
	var args []any
	if configID > 0 {
		q += ` AND config_id = ?`
		args = append(args, configID)
	}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SimTrade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// FillEntry fills a pending_entry trade: records price, time, quantity and
// entry fee, moves it to open, and flips its signal to active in the same
// transaction. Guarded on status so a concurrent fill loses cleanly.
func (s *Store) FillEntry(ctx context.Context, id int64, entryPrice float64, entryTime int64, quantity, entryFee float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE sim_trades
		 SET entry_price = ?, entry_time = ?, quantity = ?, fees = ?,
		     equity_peak = portfolio, status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`),
		entryPrice, entryTime, quantity, entryFee,
		string(model.TradeOpen), model.NowISO(), id, string(model.TradePendingEntry))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return model.ErrConflict
	}

	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE signals SET status = ?
		 WHERE id = (SELECT signal_id FROM sim_trades WHERE id = ?)`),
		string(model.SignalActive), id); err != nil {
		return err
	}
	return tx.Commit()
}

// CloseTrade moves an open trade to closed with the exit fill and final
// economics, and closes its signal in the same transaction. Guarded on
// status: closing an already-closed trade returns ErrConflict.
func (s *Store) CloseTrade(ctx context.Context, id int64, exitPrice float64, exitTime int64, exitReason string, totalFees, pnl, pnlPct float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE sim_trades
		 SET exit_price = ?, exit_time = ?, exit_reason = ?,
		     fees = ?, pnl = ?, pnl_pct = ?, status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`),
		exitPrice, exitTime, exitReason,
		totalFees, pnl, pnlPct, string(model.TradeClosed), model.NowISO(),
		id, string(model.TradeOpen))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return model.ErrConflict
	}

	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE signals SET status = ?
		 WHERE id = (SELECT signal_id FROM sim_trades WHERE id = ?)`),
		string(model.SignalClosed), id); err != nil {
		return err
	}
	return tx.Commit()
}

// PollKey is one (interval, override) pair among live trades, used by the
// tracker to derive its poll period.
type PollKey struct {
	Interval       model.Interval
	PollingSeconds *int64
}

// LivePollIntervals returns the distinct interval/override pairs across
// pending_entry and open trades.
func (s *Store) LivePollIntervals(ctx context.Context) ([]PollKey, error) {
	rows, err := s.query(ctx,
		`SELECT DISTINCT st.interval, sc.polling_interval_s
		 FROM sim_trades st
		 JOIN signal_configs sc ON st.config_id = sc.id
		 WHERE st.status IN (?, ?)`,
		string(model.TradePendingEntry), string(model.TradeOpen))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PollKey
	for rows.Next() {
		var iv string
		var override sql.NullInt64
		if err := rows.Scan(&iv, &override); err != nil {
			return nil, err
		}
		k := PollKey{Interval: model.Interval(iv)}
		if override.Valid {
			k.PollingSeconds = &override.Int64
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
