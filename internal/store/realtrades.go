package store

import (
	"context"
	"database/sql"

	"trading-tools/internal/model"
)

const realTradeColumns = `id, sim_trade_id, signal_id, symbol, side,
	entry_price, entry_time, exit_price, exit_time, quantity, fees,
	pnl, pnl_pct, notes, status, created_at, updated_at`

func scanRealTrade(row interface{ Scan(...any) error }) (*model.RealTrade, error) {
	var t model.RealTrade
	var side string
	var simID, sigID sql.NullInt64
	var exitPrice, pnl, pnlPct sql.NullFloat64
	var exitTime, notes sql.NullString
	err := row.Scan(&t.ID, &simID, &sigID, &t.Symbol, &side,
		&t.EntryPrice, &t.EntryTime, &exitPrice, &exitTime, &t.Quantity, &t.Fees,
		&pnl, &pnlPct, &notes, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Side = model.Side(side)
	if simID.Valid {
		t.SimTradeID = &simID.Int64
	}
	if sigID.Valid {
		t.SignalID = &sigID.Int64
	}
	if exitPrice.Valid {
		t.ExitPrice = &exitPrice.Float64
	}
	if exitTime.Valid {
		t.ExitTime = &exitTime.String
	}
	if pnl.Valid {
		t.Pnl = &pnl.Float64
	}
	if pnlPct.Valid {
		t.PnlPct = &pnlPct.Float64
	}
	if notes.Valid {
		t.Notes = &notes.String
	}
	return &t, nil
}

// CreateRealTrade records a user-entered real execution.
func (s *Store) CreateRealTrade(ctx context.Context, t *model.RealTrade) (*model.RealTrade, error) {
	now := model.NowISO()
	if t.Status == "" {
		t.Status = "open"
	}
	id, err := s.insertReturningID(ctx, nil,
		`INSERT INTO real_trades
		 (sim_trade_id, signal_id, symbol, side, entry_price, entry_time,
		  exit_price, exit_time, quantity, fees, pnl, pnl_pct, notes, status,
		  created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.SimTradeID, t.SignalID, t.Symbol, string(t.Side), t.EntryPrice, t.EntryTime,
		t.ExitPrice, t.ExitTime, t.Quantity, t.Fees, t.Pnl, t.PnlPct, t.Notes, t.Status,
		now, now)
	if err != nil {
		return nil, err
	}
	return s.GetRealTrade(ctx, id)
}

// GetRealTrade fetches one real trade, ErrNotFound when absent.
func (s *Store) GetRealTrade(ctx context.Context, id int64) (*model.RealTrade, error) {
	t, err := scanRealTrade(s.queryRow(ctx,
		`SELECT `+realTradeColumns+` FROM real_trades WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	return t, err
}

// ListRealTrades returns real trades newest first, optionally filtered by
// symbol or the sim trade they shadow.
func (s *Store) ListRealTrades(ctx context.Context, symbol string, simTradeID int64, limit int) ([]model.RealTrade, error) {
	q := `SELECT ` + realTradeColumns + ` FROM real_trades WHERE 1=1`
	var args []any
	if symbol != "" {
		q += ` AND symbol = ?`
		args = append(args, symbol)
	}
	if simTradeID > 0 {
		q += ` AND sim_trade_id = ?`
		args = append(args, simTradeID)
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

	var out []model.RealTrade
	for rows.Next() {
		t, err := scanRealTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// CloseRealTrade records the exit fill on an open real trade, deriving pnl
// from the stored entry. ErrConflict when already closed.
func (s *Store) CloseRealTrade(ctx context.Context, id int64, exitPrice float64, exitTime string, extraFees float64) (*model.RealTrade, error) {
	t, err := s.GetRealTrade(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != "open" {
		return nil, model.ErrConflict
	}

	gross := model.GrossPnl(t.Side, t.Quantity, t.EntryPrice, exitPrice)
	fees := t.Fees + extraFees
	pnl := gross - extraFees
	invested := t.Quantity * t.EntryPrice
	var pnlPct float64
	if invested > 0 {
		pnlPct = pnl / invested * 100
	}

	res, err := s.exec(ctx,
		`UPDATE real_trades
		 SET exit_price = ?, exit_time = ?, fees = ?, pnl = ?, pnl_pct = ?,
		     status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		exitPrice, exitTime, fees, pnl, pnlPct, "closed", model.NowISO(), id, "open")
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, model.ErrConflict
	}
	return s.GetRealTrade(ctx, id)
}

// DeleteRealTrade removes a user-entered row.
func (s *Store) DeleteRealTrade(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, `DELETE FROM real_trades WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}
