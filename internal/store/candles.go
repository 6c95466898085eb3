package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"trading-tools/internal/frame"
	"trading-tools/internal/model"
)

// UpsertCandles writes a batch in one transaction, replacing rows that
// already exist. Returns the number of rows written.
func (s *Store) UpsertCandles(ctx context.Context, candles []model.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	q := `INSERT OR REPLACE INTO klines
		(symbol, interval, open_time, open, high, low, close, volume,
		 close_time, quote_asset_volume, number_of_trades,
		 taker_buy_base_vol, taker_buy_quote_vol, ignore_field, source, downloaded_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	if s.pg {
		q = `INSERT INTO klines
			(symbol, interval, open_time, open, high, low, close, volume,
			 close_time, quote_asset_volume, number_of_trades,
			 taker_buy_base_vol, taker_buy_quote_vol, ignore_field, source, downloaded_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (symbol, interval, open_time) DO UPDATE SET
				open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
				close = EXCLUDED.close, volume = EXCLUDED.volume,
				close_time = EXCLUDED.close_time,
				quote_asset_volume = EXCLUDED.quote_asset_volume,
				number_of_trades = EXCLUDED.number_of_trades,
				taker_buy_base_vol = EXCLUDED.taker_buy_base_vol,
				taker_buy_quote_vol = EXCLUDED.taker_buy_quote_vol,
				ignore_field = EXCLUDED.ignore_field,
				source = EXCLUDED.source,
				downloaded_at = EXCLUDED.downloaded_at`
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(q))
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx,
			c.Symbol, string(c.Interval), c.OpenTime,
			c.Open, c.High, c.Low, c.Close, c.Volume,
			c.CloseTime, c.QuoteAssetVolume, c.NumberOfTrades,
			c.TakerBuyBaseVol, c.TakerBuyQuoteVol, c.IgnoreField,
			c.Source, c.DownloadedAt,
		); err != nil {
			return 0, fmt.Errorf("upsert candle %s/%s@%d: %w", c.Symbol, c.Interval, c.OpenTime, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return len(candles), nil
}

// ExistingOpenTimes returns the set of stored open_times for the symbol and
// interval within [start, end).
func (s *Store) ExistingOpenTimes(ctx context.Context, symbol string, interval model.Interval, start, end int64) (map[int64]struct{}, error) {
	rows, err := s.query(ctx,
		`SELECT open_time FROM klines
		 WHERE symbol = ? AND interval = ? AND open_time >= ? AND open_time < ?`,
		symbol, string(interval), start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]struct{})
	for rows.Next() {
		var t int64
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out[t] = struct{}{}
	}
	return out, rows.Err()
}

// CountAndLast reports how many candles are stored in [start, end) and the
// greatest open_time among them (0 when none).
func (s *Store) CountAndLast(ctx context.Context, symbol string, interval model.Interval, start, end int64) (count int64, last int64, err error) {
	var lastNull sql.NullInt64
	err = s.queryRow(ctx,
		`SELECT COUNT(*), MAX(open_time) FROM klines
		 WHERE symbol = ? AND interval = ? AND open_time >= ? AND open_time < ?`,
		symbol, string(interval), start, end).Scan(&count, &lastNull)
	if err != nil {
		return 0, 0, err
	}
	if lastNull.Valid {
		last = lastNull.Int64
	}
	return count, last, nil
}

// LoadFrame reads candles ordered by open_time into a numeric frame,
// coercing the stored decimal strings to float64. A zero start/end means
// unbounded on that side; limit 0 means no limit.
func (s *Store) LoadFrame(ctx context.Context, symbol string, interval model.Interval, start, end int64, limit int) (*frame.Frame, error) {
	q := `SELECT open_time, open, high, low, close, volume FROM klines
		WHERE symbol = ? AND interval = ?`
	args := []any{symbol, string(interval)}
	if start > 0 {
		q += ` AND open_time >= ?`
		args = append(args, start)
	}
	if end > 0 {
		q += ` AND open_time <= ?`
		args = append(args, end)
	}
	q += ` ORDER BY open_time ASC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	f := &frame.Frame{}
	for rows.Next() {
		var t int64
		var o, h, l, c, v string
		if err := rows.Scan(&t, &o, &h, &l, &c, &v); err != nil {
			return nil, err
		}
		vals := make([]float64, 5)
		for i, field := range []struct{ name, raw string }{
			{"open", o}, {"high", h}, {"low", l}, {"close", c}, {"volume", v},
		} {
			parsed, err := strconv.ParseFloat(field.raw, 64)
			if err != nil {
				return nil, fmt.Errorf("candle %s/%s@%d %s %q: %w", symbol, interval, t, field.name, field.raw, err)
			}
			vals[i] = parsed
		}

		f.OpenTime = append(f.OpenTime, t)
		f.Open = append(f.Open, vals[0])
		f.High = append(f.High, vals[1])
		f.Low = append(f.Low, vals[2])
		f.Close = append(f.Close, vals[3])
		f.Volume = append(f.Volume, vals[4])
	}
	return f, rows.Err()
}

// GetCandle fetches a single stored candle, ErrNotFound when absent.
func (s *Store) GetCandle(ctx context.Context, symbol string, interval model.Interval, openTime int64) (*model.Candle, error) {
	var c model.Candle
	var iv string
	var ignore sql.NullString
	err := s.queryRow(ctx,
		`SELECT symbol, interval, open_time, open, high, low, close, volume,
		        close_time, quote_asset_volume, number_of_trades,
		        taker_buy_base_vol, taker_buy_quote_vol, ignore_field, source, downloaded_at
		 FROM klines WHERE symbol = ? AND interval = ? AND open_time = ?`,
		symbol, string(interval), openTime).Scan(
		&c.Symbol, &iv, &c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
		&c.CloseTime, &c.QuoteAssetVolume, &c.NumberOfTrades,
		&c.TakerBuyBaseVol, &c.TakerBuyQuoteVol, &ignore, &c.Source, &c.DownloadedAt)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Interval = model.Interval(iv)
	c.IgnoreField = ignore.String
	return &c, nil
}

// ListCandles reads full candle rows ordered by open_time ascending. Zero
// start/end are unbounded; end is exclusive; limit 0 means no limit.
func (s *Store) ListCandles(ctx context.Context, symbol string, interval model.Interval, start, end int64, limit int) ([]model.Candle, error) {
	q := `SELECT symbol, interval, open_time, open, high, low, close, volume,
	             close_time, quote_asset_volume, number_of_trades,
	             taker_buy_base_vol, taker_buy_quote_vol, ignore_field, source, downloaded_at
	      FROM klines WHERE symbol = ? AND interval = ?`
	args := []any{symbol, string(interval)}
	if start > 0 {
		q += ` AND open_time >= ?`
		args = append(args, start)
	}
	if end > 0 {
		q += ` AND open_time < ?`
		args = append(args, end)
	}
	q += ` ORDER BY open_time ASC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		var iv string
		var ignore sql.NullString
		if err := rows.Scan(
			&c.Symbol, &iv, &c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
			&c.CloseTime, &c.QuoteAssetVolume, &c.NumberOfTrades,
			&c.TakerBuyBaseVol, &c.TakerBuyQuoteVol, &ignore, &c.Source, &c.DownloadedAt,
		); err != nil {
			return nil, err
		}
		c.Interval = model.Interval(iv)
		c.IgnoreField = ignore.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// CoverageRange is one contiguous stored run of candles.
type CoverageRange struct {
	Start   int64 `json:"start"`
	End     int64 `json:"end"` // open_time of the last candle in the run
	Candles int64 `json:"candles"`
}

// Coverage summarizes which contiguous ranges are stored for the pair,
// splitting wherever consecutive open_times differ from the interval step.
func (s *Store) Coverage(ctx context.Context, symbol string, interval model.Interval) ([]CoverageRange, error) {
	step, err := interval.StepMs()
	if err != nil {
		return nil, err
	}

	rows, err := s.query(ctx,
		`SELECT open_time FROM klines WHERE symbol = ? AND interval = ? ORDER BY open_time ASC`,
		symbol, string(interval))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CoverageRange
	var cur *CoverageRange
	for rows.Next() {
		var t int64
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		if cur != nil && t == cur.End+step {
			cur.End = t
			cur.Candles++
			continue
		}
		out = append(out, CoverageRange{Start: t, End: t, Candles: 1})
		cur = &out[len(out)-1]
	}
	return out, rows.Err()
}
