package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/emberlyhq/emberly-backend/internal/models"
)

func scanDeliveryRecord(row rowScanner) (*models.DeliveryRecord, error) {
	rec := &models.DeliveryRecord{}
	var deliveredAt, readAt sql.NullTime
	if err := row.Scan(&rec.MessageID, &rec.UserID, &rec.Status, &deliveredAt, &readAt); err != nil {
		return nil, err
	}
	if deliveredAt.Valid {
		rec.DeliveredAt = &deliveredAt.Time
	}
	if readAt.Valid {
		rec.ReadAt = &readAt.Time
	}
	return rec, nil
}

func (s *PostgresStore) UpsertDeliveryRecord(ctx context.Context, messageID, userID string, status models.DeliveryStatus) (*models.DeliveryRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	current, err := scanDeliveryRecord(tx.QueryRowContext(ctx, `
		SELECT message_id, user_id, status, delivered_at, read_at
		FROM delivery_records
		WHERE message_id = $1 AND user_id = $2
		FOR UPDATE
	`, messageID, userID))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load delivery record: %w", err)
	}

	if status.Rank() < current.Status.Rank() {
		return current, models.ErrInvalidTransition
	}
	if status.Rank() == current.Status.Rank() {
		// Repeated acknowledgement, nothing to update.
		return current, nil
	}

	// read implies delivered: a read arriving before the delivered ack still
	// yields a complete record.
	updated, err := scanDeliveryRecord(tx.QueryRowContext(ctx, `
		UPDATE delivery_records
		SET status = $3,
		    delivered_at = CASE WHEN $3 IN ('delivered', 'read') THEN COALESCE(delivered_at, NOW()) ELSE delivered_at END,
		    read_at = CASE WHEN $3 = 'read' THEN COALESCE(read_at, NOW()) ELSE read_at END
		WHERE message_id = $1 AND user_id = $2
		RETURNING message_id, user_id, status, delivered_at, read_at
	`, messageID, userID, status))
	if err != nil {
		return nil, fmt.Errorf("update delivery record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delivery record: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) GetDeliveryRecord(ctx context.Context, messageID, userID string) (*models.DeliveryRecord, error) {
	rec, err := scanDeliveryRecord(s.db.QueryRowContext(ctx, `
		SELECT message_id, user_id, status, delivered_at, read_at
		FROM delivery_records
		WHERE message_id = $1 AND user_id = $2
	`, messageID, userID))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delivery_records WHERE user_id = $1 AND status <> 'read'`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("unread count for %s: %w", userID, err)
	}
	return count, nil
}
