package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/emberlyhq/emberly-backend/internal/models"
)

func idemIndexKey(conversationID, idempotencyKey string) string {
	return conversationID + "|" + idempotencyKey
}

func (s *Store) CreateMessage(_ context.Context, conversationID, senderID, content string, msgType models.MessageType, idempotencyKey string, replyToID *string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, models.ErrNotFound
	}

	if existingID, ok := s.idemIndex[idemIndexKey(conversationID, idempotencyKey)]; ok {
		return cloneMessage(s.messages[existingID]), models.ErrConflict
	}

	s.seq++
	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           msgType,
		ReplyToID:      replyToID,
		IdempotencyKey: idempotencyKey,
		Seq:            s.seq,
		Timestamp:      s.Now(),
	}
	s.messages[msg.ID] = msg
	s.idemIndex[idemIndexKey(conversationID, idempotencyKey)] = msg.ID
	s.convOrder[conversationID] = append(s.convOrder[conversationID], msg.ID)

	records := make(map[string]*models.DeliveryRecord)
	for _, userID := range conv.Participants {
		if userID == senderID {
			continue
		}
		records[userID] = &models.DeliveryRecord{
			MessageID: msg.ID,
			UserID:    userID,
			Status:    models.StatusSent,
		}
	}
	s.deliveries[msg.ID] = records

	return cloneMessage(msg), nil
}

func (s *Store) GetMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneMessage(msg), nil
}

func (s *Store) ListMessages(_ context.Context, conversationID string, beforeSeq int64, limit int, typeFilter models.MessageType) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var msgs []*models.Message
	for _, id := range s.convOrder[conversationID] {
		msg := s.messages[id]
		if beforeSeq > 0 && msg.Seq >= beforeSeq {
			continue
		}
		if typeFilter != "" && msg.Type != typeFilter {
			continue
		}
		msgs = append(msgs, cloneMessage(msg))
	}

	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Seq > msgs[j].Seq
	})
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *Store) EditMessage(_ context.Context, id, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok || msg.Deleted {
		return nil, models.ErrNotFound
	}
	now := s.Now()
	msg.Content = content
	msg.Edited = true
	msg.EditedAt = &now
	return cloneMessage(msg), nil
}

func (s *Store) DeleteMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	msg.Content = models.Tombstone
	msg.Deleted = true
	return cloneMessage(msg), nil
}

func cloneMessage(msg *models.Message) *models.Message {
	out := *msg
	if msg.ReplyToID != nil {
		r := *msg.ReplyToID
		out.ReplyToID = &r
	}
	if msg.EditedAt != nil {
		t := *msg.EditedAt
		out.EditedAt = &t
	}
	return &out
}
