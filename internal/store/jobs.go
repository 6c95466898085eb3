package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"trading-tools/internal/model"
)

// CreateJob inserts a pending download job and returns it with its id.
func (s *Store) CreateJob(ctx context.Context, symbol string, interval model.Interval, start, end int64) (*model.DownloadJob, error) {
	now := model.NowISO()
	id, err := s.insertReturningID(ctx, nil,
		`INSERT INTO download_jobs (symbol, interval, start_time, end_time, status, created_at, updated_at, log)
		 VALUES (?,?,?,?,?,?,?,?)`,
		symbol, string(interval), start, end, string(model.JobPending), now, now, "[]")
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return &model.DownloadJob{
		ID: id, Symbol: symbol, Interval: interval,
		StartTime: start, EndTime: end,
		Status: model.JobPending, CreatedAt: now, UpdatedAt: now,
		Log: []model.JobLogEntry{},
	}, nil
}

// GetJob fetches one job, ErrNotFound when absent.
func (s *Store) GetJob(ctx context.Context, id int64) (*model.DownloadJob, error) {
	var j model.DownloadJob
	var iv, status, logJSON string
	err := s.queryRow(ctx,
		`SELECT id, symbol, interval, start_time, end_time, status, progress_pct,
		        candles_downloaded, candles_expected, gaps_found, created_at, updated_at, log
		 FROM download_jobs WHERE id = ?`, id).Scan(
		&j.ID, &j.Symbol, &iv, &j.StartTime, &j.EndTime, &status, &j.ProgressPct,
		&j.CandlesDownloaded, &j.CandlesExpected, &j.GapsFound, &j.CreatedAt, &j.UpdatedAt, &logJSON)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.Interval = model.Interval(iv)
	j.Status = model.JobStatus(status)
	if err := json.Unmarshal([]byte(logJSON), &j.Log); err != nil {
		j.Log = nil
	}
	return &j, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, status model.JobStatus, limit int) ([]model.DownloadJob, error) {
	q := `SELECT id, symbol, interval, start_time, end_time, status, progress_pct,
	             candles_downloaded, candles_expected, gaps_found, created_at, updated_at, log
	      FROM download_jobs`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
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

	var out []model.DownloadJob
	for rows.Next() {
		var j model.DownloadJob
		var iv, st, logJSON string
		if err := rows.Scan(&j.ID, &j.Symbol, &iv, &j.StartTime, &j.EndTime, &st, &j.ProgressPct,
			&j.CandlesDownloaded, &j.CandlesExpected, &j.GapsFound, &j.CreatedAt, &j.UpdatedAt, &logJSON); err != nil {
			return nil, err
		}
		j.Interval = model.Interval(iv)
		j.Status = model.JobStatus(st)
		_ = json.Unmarshal([]byte(logJSON), &j.Log)
		out = append(out, j)
	}
	return out, rows.Err()
}

// JobUpdate is a partial progress update applied by UpdateJob. Nil fields
// are left untouched.
type JobUpdate struct {
	Status            *model.JobStatus
	ProgressPct       *float64
	CandlesDownloaded *int64
	CandlesExpected   *int64
	GapsFound         *int64
	LogMsg            string
}

// UpdateJob applies a partial update and appends LogMsg (when set) to the
// job's event log in the same transaction.
func (s *Store) UpdateJob(ctx context.Context, id int64, u JobUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var logJSON string
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT log FROM download_jobs WHERE id = ?`), id).Scan(&logJSON)
	if err == sql.ErrNoRows {
		return model.ErrNotFound
	}
	if err != nil {
		return err
	}

	if u.LogMsg != "" {
		var entries []model.JobLogEntry
		_ = json.Unmarshal([]byte(logJSON), &entries)
		entries = append(entries, model.JobLogEntry{TS: model.NowISO(), Msg: u.LogMsg})
		b, err := json.Marshal(entries)
		if err != nil {
			return err
		}
		logJSON = string(b)
	}

	q := `UPDATE download_jobs SET updated_at = ?, log = ?`
	args := []any{model.NowISO(), logJSON}
	if u.Status != nil {
		q += `, status = ?`
		args = append(args, string(*u.Status))
	}
	if u.ProgressPct != nil {
		q += `, progress_pct = ?`
		args = append(args, *u.ProgressPct)
	}
	if u.CandlesDownloaded != nil {
		q += `, candles_downloaded = ?`
		args = append(args, *u.CandlesDownloaded)
	}
	if u.CandlesExpected != nil {
		q += `, candles_expected = ?`
		args = append(args, *u.CandlesExpected)
	}
	if u.GapsFound != nil {
		q += `, gaps_found = ?`
		args = append(args, *u.GapsFound)
	}
	q += ` WHERE id = ?`
	args = append(args, id)

	if _, err := tx.ExecContext(ctx, s.rebind(q), args...); err != nil {
		return err
	}
	return tx.Commit()
}

// CancelJob marks a pending or running job cancelled. Cancelling a terminal
// job returns ErrConflict; the runner observes the status between batches.
func (s *Store) CancelJob(ctx context.Context, id int64) error {
	res, err := s.exec(ctx,
		`UPDATE download_jobs SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		string(model.JobCancelled), model.NowISO(), id,
		string(model.JobPending), string(model.JobRunning))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("job %d already terminal: %w", id, model.ErrConflict)
	}
	return nil
}

// JobStatus reads just the current status, used by the runner's
// cancellation poll between batches.
func (s *Store) JobStatus(ctx context.Context, id int64) (model.JobStatus, error) {
	var st string
	err := s.queryRow(ctx, `SELECT status FROM download_jobs WHERE id = ?`, id).Scan(&st)
	if err == sql.ErrNoRows {
		return "", model.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return model.JobStatus(st), nil
}
