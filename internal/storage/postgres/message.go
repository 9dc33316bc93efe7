package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/emberlyhq/emberly-backend/internal/models"
)

const messageColumns = `id, conversation_id, sender_id, content, type, reply_to_id, idempotency_key, seq, created_at, edited, edited_at, deleted`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var replyTo sql.NullString
	var editedAt sql.NullTime
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.Type,
		&replyTo, &msg.IdempotencyKey, &msg.Seq, &msg.Timestamp,
		&msg.Edited, &editedAt, &msg.Deleted,
	)
	if err != nil {
		return nil, err
	}
	if replyTo.Valid {
		msg.ReplyToID = &replyTo.String
	}
	if editedAt.Valid {
		msg.EditedAt = &editedAt.Time
	}
	return msg, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, conversationID, senderID, content string, msgType models.MessageType, idempotencyKey string, replyToID *string) (*models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO messages (conversation_id, sender_id, content, type, reply_to_id, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (conversation_id, idempotency_key) DO NOTHING
		RETURNING ` + messageColumns
	msg, err := scanMessage(tx.QueryRowContext(ctx, insert, conversationID, senderID, content, msgType, replyToID, idempotencyKey))
	if err == sql.ErrNoRows {
		// Idempotent retry: hand back the original row, flagged as a conflict
		// so the caller can skip the side effects it already ran.
		existing, lookupErr := scanMessage(s.db.QueryRowContext(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1 AND idempotency_key = $2`,
			conversationID, idempotencyKey,
		))
		if lookupErr != nil {
			return nil, fmt.Errorf("lookup duplicate message: %w", lookupErr)
		}
		return existing, models.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	// Delivery records start at "sent" for every recipient, in the same tx
	// so a message never exists without its tracking rows.
	rows, err := tx.QueryContext(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = $1 AND user_id <> $2`,
		conversationID, senderID,
	)
	if err != nil {
		return nil, fmt.Errorf("load recipients: %w", err)
	}
	var recipients []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		recipients = append(recipients, userID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipients: %w", err)
	}

	for _, userID := range recipients {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO delivery_records (message_id, user_id, status) VALUES ($1, $2, 'sent')`,
			msg.ID, userID,
		)
		if err != nil {
			return nil, fmt.Errorf("insert delivery record for %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return msg, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, beforeSeq int64, limit int, typeFilter models.MessageType) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	// Seq is the authoritative order; a seq cursor round-trips losslessly
	// where a timestamp cursor would drop rows sharing the boundary instant.
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1`
	args := []any{conversationID}
	if beforeSeq > 0 {
		args = append(args, beforeSeq)
		query += fmt.Sprintf(" AND seq < $%d", len(args))
	}
	if typeFilter != "" {
		args = append(args, typeFilter)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY seq DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", conversationID, err)
	}
	defer rows.Close()

	msgs := make([]*models.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return msgs, nil
}

func (s *PostgresStore) EditMessage(ctx context.Context, id, content string) (*models.Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, `
		UPDATE messages
		SET content = $2, edited = TRUE, edited_at = NOW()
		WHERE id = $1 AND deleted = FALSE
		RETURNING `+messageColumns, id, content))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("edit message %s: %w", id, err)
	}
	return msg, nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) (*models.Message, error) {
	// Tombstone, never a row delete: ordering continuity and delivery history
	// survive the deletion.
	msg, err := scanMessage(s.db.QueryRowContext(ctx, `
		UPDATE messages
		SET content = $2, deleted = TRUE
		WHERE id = $1
		RETURNING `+messageColumns, id, models.Tombstone))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete message %s: %w", id, err)
	}
	return msg, nil
}
