package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/emberlyhq/emberly-backend/internal/models"
)

// directKey builds the unique key that prevents duplicate direct
// conversations for the same pair regardless of participant order.
func directKey(participants []string) string {
	sorted := append([]string(nil), participants...)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

func (s *PostgresStore) CreateConversation(ctx context.Context, convType models.ConversationType, createdBy string, participants []string) (*models.Conversation, error) {
	if convType == models.ConversationDirect && len(participants) != 2 {
		return nil, fmt.Errorf("direct conversation requires exactly two participants, got %d", len(participants))
	}
	if len(participants) < 2 {
		return nil, fmt.Errorf("conversation requires at least two participants")
	}

	var key sql.NullString
	if convType == models.ConversationDirect {
		key = sql.NullString{String: directKey(participants), Valid: true}

		// An existing direct conversation for this pair is returned as-is.
		existing, err := s.getConversationByDirectKey(ctx, key.String)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("lookup direct conversation: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	conv := &models.Conversation{Type: convType, Participants: participants}
	query := `
		INSERT INTO conversations (type, created_by, direct_key)
		VALUES ($1, $2, $3)
		RETURNING id, created_by, created_at, last_activity_at
	`
	err = tx.QueryRowContext(ctx, query, convType, createdBy, key).Scan(
		&conv.ID, &conv.CreatedBy, &conv.CreatedAt, &conv.LastActivityAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	for _, userID := range participants {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			conv.ID, userID,
		)
		if err != nil {
			return nil, fmt.Errorf("insert participant %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) getConversationByDirectKey(ctx context.Context, key string) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var firstResponse sql.NullTime
	query := `
		SELECT id, type, created_by, created_at, last_activity_at, first_response_at
		FROM conversations
		WHERE direct_key = $1
	`
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&conv.ID, &conv.Type, &conv.CreatedBy, &conv.CreatedAt, &conv.LastActivityAt, &firstResponse,
	)
	if err != nil {
		return nil, err
	}
	if firstResponse.Valid {
		conv.FirstResponseAt = &firstResponse.Time
	}
	conv.Participants, err = s.GetConversationParticipants(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var firstResponse sql.NullTime
	query := `
		SELECT id, type, created_by, created_at, last_activity_at, first_response_at
		FROM conversations
		WHERE id = $1
	`
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.Type, &conv.CreatedBy, &conv.CreatedAt, &conv.LastActivityAt, &firstResponse,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	if firstResponse.Valid {
		conv.FirstResponseAt = &firstResponse.Time
	}

	conv.Participants, err = s.GetConversationParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	query := `
		SELECT c.id, c.type, c.created_by, c.created_at, c.last_activity_at, c.first_response_at
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = $1
		ORDER BY c.last_activity_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations for %s: %w", userID, err)
	}
	defer rows.Close()

	var convs []*models.Conversation
	for rows.Next() {
		conv := &models.Conversation{}
		var firstResponse sql.NullTime
		if err := rows.Scan(&conv.ID, &conv.Type, &conv.CreatedBy, &conv.CreatedAt, &conv.LastActivityAt, &firstResponse); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		if firstResponse.Valid {
			conv.FirstResponseAt = &firstResponse.Time
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}

	for _, conv := range convs {
		conv.Participants, err = s.GetConversationParticipants(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
	}
	return convs, nil
}

func (s *PostgresStore) GetConversationParticipants(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = $1 ORDER BY user_id`, id)
	if err != nil {
		return nil, fmt.Errorf("get participants of %s: %w", id, err)
	}
	defer rows.Close()

	var participants []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan participant row: %w", err)
		}
		participants = append(participants, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participant rows: %w", err)
	}
	if participants == nil {
		return nil, models.ErrNotFound
	}
	return participants, nil
}

func (s *PostgresStore) TouchConversation(ctx context.Context, id, responderID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_activity_at = NOW(),
		    first_response_at = CASE
		        WHEN first_response_at IS NULL AND created_by <> $2 THEN NOW()
		        ELSE first_response_at
		    END
		WHERE id = $1
	`, id, responderID)
	if err != nil {
		return fmt.Errorf("touch conversation %s: %w", id, err)
	}
	return nil
}
