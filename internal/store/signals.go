package store

import (
	"context"
	"database/sql"
	"fmt"

	"trading-tools/internal/model"
)

const signalColumns = `id, config_id, symbol, interval, strategy, side,
	trigger_candle_time, stop_price, stop_trigger_price, status, created_at`

func scanSignal(row interface{ Scan(...any) error }) (*model.Signal, error) {
	var sg model.Signal
	var iv, side, status string
	err := row.Scan(&sg.ID, &sg.ConfigID, &sg.Symbol, &iv, &sg.Strategy, &side,
		&sg.TriggerCandleTime, &sg.StopPrice, &sg.StopTriggerPrice, &status, &sg.CreatedAt)
	if err != nil {
		return nil, err
	}
	sg.Interval = model.Interval(iv)
	sg.Side = model.Side(side)
	sg.Status = model.SignalStatus(status)
	return &sg, nil
}

// EmitSignal writes a signal together with its pending_entry sim trade in a
// single transaction. The unique index on (config_id, trigger_candle_time)
// makes re-emission a no-op: created is false and the existing signal is
// returned. Either both rows commit or neither does.
func (s *Store) EmitSignal(ctx context.Context, sg *model.Signal, invested, leverage, portfolio float64) (*model.Signal, *model.SimTrade, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, false, err
	}
	defer tx.Rollback()

	now := model.NowISO()
	sigID, err := s.insertReturningID(ctx, tx,
		`INSERT INTO signals
		 (config_id, symbol, interval, strategy, side, trigger_candle_time,
		  stop_price, stop_trigger_price, status, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		sg.ConfigID, sg.Symbol, string(sg.Interval), sg.Strategy, string(sg.Side),
		sg.TriggerCandleTime, sg.StopPrice, sg.StopTriggerPrice,
		string(model.SignalPending), now)
	if err != nil {
		if isUniqueViolation(err) {
			// Release the tx (and with it the single sqlite conn) before
			// re-reading the winner row.
			tx.Rollback()
			existing, gerr := s.GetSignalByTrigger(ctx, sg.ConfigID, sg.TriggerCandleTime)
			if gerr != nil {
				return nil, nil, false, gerr
			}
			return existing, nil, false, nil
		}
		return nil, nil, false, fmt.Errorf("emit signal: %w", err)
	}

	tradeID, err := s.insertReturningID(ctx, tx,
		`INSERT INTO sim_trades
		 (signal_id, config_id, symbol, interval, side, stop_base, stop_trigger,
		  status, portfolio, invested_amount, leverage, fees, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sigID, sg.ConfigID, sg.Symbol, string(sg.Interval), string(sg.Side),
		sg.StopPrice, sg.StopTriggerPrice, string(model.TradePendingEntry),
		portfolio, invested, leverage, 0.0, now, now)
	if err != nil {
		return nil, nil, false, fmt.Errorf("emit sim trade: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, false, err
	}

	out := *sg
	out.ID = sigID
	out.Status = model.SignalPending
	out.CreatedAt = now

	tr := &model.SimTrade{
		ID: tradeID, SignalID: sigID, ConfigID: sg.ConfigID,
		Symbol: sg.Symbol, Interval: sg.Interval, Side: sg.Side,
		StopBase: sg.StopPrice, StopTrigger: sg.StopTriggerPrice,
		Status:    model.TradePendingEntry,
		Portfolio: portfolio, InvestedAmount: invested, Leverage: leverage,
		CreatedAt: now, UpdatedAt: now,
	}
	return &out, tr, true, nil
}

// GetSignal fetches one signal, ErrNotFound when absent.
func (s *Store) GetSignal(ctx context.Context, id int64) (*model.Signal, error) {
	sg, err := scanSignal(s.queryRow(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	return sg, err
}

// GetSignalByTrigger fetches a signal by its dedup key.
func (s *Store) GetSignalByTrigger(ctx context.Context, configID, triggerTime int64) (*model.Signal, error) {
	sg, err := scanSignal(s.queryRow(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE config_id = ? AND trigger_candle_time = ?`,
		configID, triggerTime))
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	return sg, err
}

// ListSignals returns signals newest first, optionally filtered by config
// and status.
func (s *Store) ListSignals(ctx context.Context, configID int64, status model.SignalStatus, limit int) ([]model.Signal, error) {
	q := `SELECT ` + signalColumns + ` FROM signals WHERE 1=1`
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

	var out []model.Signal
	for rows.Next() {
		sg, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sg)
	}
	return out, rows.Err()
}

// SetSignalStatus moves a signal through its lifecycle.
func (s *Store) SetSignalStatus(ctx context.Context, id int64, status model.SignalStatus) error {
	res, err := s.exec(ctx, `UPDATE signals SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}
