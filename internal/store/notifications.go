package store

import (
	"context"

	"trading-tools/internal/model"
)

// RecordNotification claims the at-most-once slot for
// (eventType, referenceType, referenceID). Returns true when this call won
// the slot; false when a previous attempt already recorded it, so the
// caller must not re-send the side effect.
func (s *Store) RecordNotification(ctx context.Context, eventType, referenceType string, referenceID int64, message string) (bool, error) {
	_, err := s.exec(ctx,
		`INSERT INTO notification_log (event_type, reference_type, reference_id, message, sent_at)
		 VALUES (?,?,?,?,?)`,
		eventType, referenceType, referenceID, message, model.NowISO())
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListNotifications returns the log newest first.
func (s *Store) ListNotifications(ctx context.Context, limit int) ([]model.NotificationEntry, error) {
	q := `SELECT id, event_type, reference_type, reference_id, message, sent_at
	      FROM notification_log ORDER BY id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.NotificationEntry
	for rows.Next() {
		var n model.NotificationEntry
		if err := rows.Scan(&n.ID, &n.EventType, &n.ReferenceType, &n.ReferenceID, &n.Message, &n.SentAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
