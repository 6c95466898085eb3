package store

import (
	"context"
	"database/sql"
	"fmt"

	"trading-tools/internal/model"
)

const configColumns = `id, symbol, interval, strategy, params, stop_cross_pct,
	portfolio, invested_amount, leverage, cost_bps, polling_interval_s,
	active, last_processed_candle, created_at, updated_at`

func scanConfig(row interface{ Scan(...any) error }) (*model.SignalConfig, error) {
	var c model.SignalConfig
	var iv string
	var invested, leverage sql.NullFloat64
	var polling, watermark sql.NullInt64
	err := row.Scan(&c.ID, &c.Symbol, &iv, &c.Strategy, &c.Params, &c.StopCrossPct,
		&c.Portfolio, &invested, &leverage, &c.CostBps, &polling,
		&c.Active, &watermark, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Interval = model.Interval(iv)
	if invested.Valid {
		c.InvestedAmount = &invested.Float64
	}
	if leverage.Valid {
		c.Leverage = &leverage.Float64
	}
	if polling.Valid {
		c.PollingSeconds = &polling.Int64
	}
	if watermark.Valid {
		c.LastProcessedCandle = watermark.Int64
	}
	return &c, nil
}

// CreateConfig inserts a signal config. A duplicate
// (symbol, interval, strategy, params) combination returns ErrConflict.
func (s *Store) CreateConfig(ctx context.Context, c *model.SignalConfig) (*model.SignalConfig, error) {
	now := model.NowISO()
	id, err := s.insertReturningID(ctx, nil,
		`INSERT INTO signal_configs
		 (symbol, interval, strategy, params, stop_cross_pct, portfolio,
		  invested_amount, leverage, cost_bps, polling_interval_s, active,
		  last_processed_candle, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.Symbol, string(c.Interval), c.Strategy, c.Params, c.StopCrossPct, c.Portfolio,
		c.InvestedAmount, c.Leverage, c.CostBps, c.PollingSeconds, c.Active,
		c.LastProcessedCandle, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("config %s/%s %s already exists: %w",
				c.Symbol, c.Interval, c.Strategy, model.ErrConflict)
		}
		return nil, err
	}
	return s.GetConfig(ctx, id)
}

// GetConfig fetches one config, ErrNotFound when absent.
func (s *Store) GetConfig(ctx context.Context, id int64) (*model.SignalConfig, error) {
	c, err := scanConfig(s.queryRow(ctx,
		`SELECT `+configColumns+` FROM signal_configs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	return c, err
}

// ListConfigs returns configs, optionally only active ones.
func (s *Store) ListConfigs(ctx context.Context, activeOnly bool) ([]model.SignalConfig, error) {
	q := `SELECT ` + configColumns + ` FROM signal_configs`
	if activeOnly {
		q += ` WHERE active = ?`
	}
	q += ` ORDER BY id ASC`

	var rows *sql.Rows
	var err error
	if activeOnly {
		rows, err = s.query(ctx, q, true)
	} else {
		rows, err = s.query(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SignalConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ConfigPatch carries the mutable fields of a config. Nil pointers mean
// "leave unchanged"; identity fields (symbol, interval, strategy, params)
// are immutable after creation.
type ConfigPatch struct {
	StopCrossPct   *float64
	Portfolio      *float64
	InvestedAmount *float64
	Leverage       *float64
	CostBps        *float64
	PollingSeconds *int64
	Active         *bool
}

// PatchConfig applies a partial update and returns the updated row.
func (s *Store) PatchConfig(ctx context.Context, id int64, p ConfigPatch) (*model.SignalConfig, error) {
	q := `UPDATE signal_configs SET updated_at = ?`
	args := []any{model.NowISO()}
	if p.StopCrossPct != nil {
		q += `, stop_cross_pct = ?`
		args = append(args, *p.StopCrossPct)
	}
	if p.Portfolio != nil {
		q += `, portfolio = ?`
		args = append(args, *p.Portfolio)
	}
	if p.InvestedAmount != nil {
		q += `, invested_amount = ?`
		args = append(args, *p.InvestedAmount)
	}
	if p.Leverage != nil {
		q += `, leverage = ?`
		args = append(args, *p.Leverage)
	}
	if p.CostBps != nil {
		q += `, cost_bps = ?`
		args = append(args, *p.CostBps)
	}
	if p.PollingSeconds != nil {
		q += `, polling_interval_s = ?`
		args = append(args, *p.PollingSeconds)
	}
	if p.Active != nil {
		q += `, active = ?`
		args = append(args, *p.Active)
	}
	q += ` WHERE id = ?`
	args = append(args, id)

	res, err := s.exec(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, model.ErrNotFound
	}
	return s.GetConfig(ctx, id)
}

// DeleteConfig removes a config after closing any of its non-closed trades
// (exit reason "manual", zero pnl) and its signals, all in one transaction.
func (s *Store) DeleteConfig(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := model.NowISO()
	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE sim_trades SET status = ?, exit_reason = ?, updated_at = ?
		 WHERE config_id = ? AND status != ?`),
		string(model.TradeClosed), model.ExitReasonManual, now, id, string(model.TradeClosed)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE signals SET status = ? WHERE config_id = ? AND status != ?`),
		string(model.SignalClosed), id, string(model.SignalClosed)); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM signal_configs WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return tx.Commit()
}

// AdvanceWatermark moves last_processed_candle forward. Monotonic: a value
// at or below the stored one is a no-op.
func (s *Store) AdvanceWatermark(ctx context.Context, id int64, openTime int64) error {
	_, err := s.exec(ctx,
		`UPDATE signal_configs SET last_processed_candle = ?, updated_at = ?
		 WHERE id = ? AND last_processed_candle < ?`,
		openTime, model.NowISO(), id, openTime)
	return err
}
