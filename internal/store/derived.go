package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"trading-tools/internal/model"
)

// UpsertMetric writes one derived-metric series for a pair in a single
// transaction. NaN values are stored as NULL so warmup rows stay queryable.
func (s *Store) UpsertMetric(ctx context.Context, symbol string, interval model.Interval, metric string, openTimes []int64, values []float64) (int, error) {
	if len(openTimes) != len(values) {
		return 0, fmt.Errorf("metric %s: %d times vs %d values: %w",
			metric, len(openTimes), len(values), model.ErrBadInput)
	}
	if len(openTimes) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	q := `INSERT OR REPLACE INTO derived_metrics (symbol, interval, open_time, metric_name, value)
		VALUES (?,?,?,?,?)`
	if s.pg {
		q = `INSERT INTO derived_metrics (symbol, interval, open_time, metric_name, value)
			VALUES (?,?,?,?,?)
			ON CONFLICT (symbol, interval, open_time, metric_name)
			DO UPDATE SET value = EXCLUDED.value`
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(q))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i, t := range openTimes {
		var v any
		if !math.IsNaN(values[i]) && !math.IsInf(values[i], 0) {
			v = values[i]
		}
		if _, err := stmt.ExecContext(ctx, symbol, string(interval), t, metric, v); err != nil {
			return 0, fmt.Errorf("upsert metric %s@%d: %w", metric, t, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(openTimes), nil
}

// MetricPoint is one (open_time, value) sample; Value is nil for warmup
// rows stored as NULL.
type MetricPoint struct {
	OpenTime int64    `json:"open_time"`
	Value    *float64 `json:"value"`
}

// MetricSeries reads one metric ordered by open_time, optionally bounded.
func (s *Store) MetricSeries(ctx context.Context, symbol string, interval model.Interval, metric string, start, end int64) ([]MetricPoint, error) {
	q := `SELECT open_time, value FROM derived_metrics
		WHERE symbol = ? AND interval = ? AND metric_name = ?`
	args := []any{symbol, string(interval), metric}
	if start > 0 {
		q += ` AND open_time >= ?`
		args = append(args, start)
	}
	if end > 0 {
		q += ` AND open_time <= ?`
		args = append(args, end)
	}
	q += ` ORDER BY open_time ASC`

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MetricPoint
	for rows.Next() {
		var p MetricPoint
		var v sql.NullFloat64
		if err := rows.Scan(&p.OpenTime, &v); err != nil {
			return nil, err
		}
		if v.Valid {
			p.Value = &v.Float64
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MetricStatus is the per-metric coverage summary for a pair.
type MetricStatus struct {
	Metric string `json:"metric"`
	Rows   int64  `json:"rows"`
	First  int64  `json:"first_open_time"`
	Last   int64  `json:"last_open_time"`
}

// MetricsStatus summarizes which metrics are computed for the pair.
func (s *Store) MetricsStatus(ctx context.Context, symbol string, interval model.Interval) ([]MetricStatus, error) {
	rows, err := s.query(ctx,
		`SELECT metric_name, COUNT(*), MIN(open_time), MAX(open_time)
		 FROM derived_metrics WHERE symbol = ? AND interval = ?
		 GROUP BY metric_name ORDER BY metric_name ASC`,
		symbol, string(interval))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MetricStatus
	for rows.Next() {
		var m MetricStatus
		if err := rows.Scan(&m.Metric, &m.Rows, &m.First, &m.Last); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
