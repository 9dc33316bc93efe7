package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/emberlyhq/emberly-backend/internal/cache"
	"github.com/emberlyhq/emberly-backend/internal/metrics"
	"github.com/emberlyhq/emberly-backend/internal/models"
	"github.com/emberlyhq/emberly-backend/internal/storage"
)

// Broadcaster is the fan-out surface the pipeline needs; the ws hub
// implements it. Delivery is at-most-once to currently connected members.
type Broadcaster interface {
	BroadcastToRoom(conversationID, event string, data any, excludeUserID string)
	EmitToUser(userID, event string, data any)
	IsOnline(userID string) bool
}

// Service is the message pipeline: submission -> persistence -> cache window
// -> fan-out -> delivery/read tracking. The durable store is the single
// source of truth; the cache and the broadcast are strictly downstream of a
// successful write.
type Service struct {
	store      storage.Store
	cache      cache.Cache
	bcast      Broadcaster
	logger     zerolog.Logger
	windowSize int
}

func NewService(store storage.Store, c cache.Cache, bcast Broadcaster, logger zerolog.Logger, windowSize int) *Service {
	if windowSize <= 0 {
		windowSize = 50
	}
	return &Service{
		store:      store,
		cache:      c,
		bcast:      bcast,
		logger:     logger.With().Str("component", "pipeline").Logger(),
		windowSize: windowSize,
	}
}

// Send runs a submitted message through the pipeline. A persistence failure
// aborts the whole operation: nothing is cached, nothing is broadcast, the
// sender gets the error and must retry. A duplicate idempotency key resolves
// to the originally persisted message with no repeated side effects.
func (s *Service) Send(ctx context.Context, senderID, conversationID, content string, msgType models.MessageType, idempotencyKey string, replyToID *string) (*models.Message, error) {
	if idempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key required")
	}
	if !models.ValidMessageType(msgType) {
		return nil, fmt.Errorf("unknown message type %q", msgType)
	}

	if err := s.requireParticipant(ctx, conversationID, senderID); err != nil {
		return nil, err
	}

	start := time.Now()
	msg, err := s.store.CreateMessage(ctx, conversationID, senderID, content, msgType, idempotencyKey, replyToID)
	if errors.Is(err, models.ErrConflict) {
		return msg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}
	metrics.PersistLatency.Observe(time.Since(start).Seconds())
	metrics.MessagesPersisted.WithLabelValues(string(msgType)).Inc()

	s.pushWindow(ctx, msg)

	if err := s.store.TouchConversation(ctx, conversationID, senderID); err != nil {
		// Activity bookkeeping must not fail an already-durable message.
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("touch conversation failed")
	}

	s.bcast.BroadcastToRoom(conversationID, models.EventMessageReceived,
		models.MessagePayload{Message: msg}, senderID)
	return msg, nil
}

// pushWindow opportunistically front-inserts the serialized message into the
// conversation's cached window. Failure is logged inside the cache layer and
// ignored here.
func (s *Service) pushWindow(ctx context.Context, msg *models.Message) {
	serialized, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("message_id", msg.ID).Msg("serialize message for window")
		return
	}
	_ = s.cache.PushToWindow(ctx, msg.ConversationID, string(serialized))
}

// MarkDelivered records a delivery acknowledgement from a recipient.
func (s *Service) MarkDelivered(ctx context.Context, messageID, userID string) error {
	return s.ack(ctx, messageID, userID, models.StatusDelivered, models.EventMessageDelivered)
}

// MarkRead records a read acknowledgement. Read implies delivered, so a read
// arriving before the delivered ack still yields a complete record.
func (s *Service) MarkRead(ctx context.Context, messageID, userID string) error {
	return s.ack(ctx, messageID, userID, models.StatusRead, models.EventMessageRead)
}

func (s *Service) ack(ctx context.Context, messageID, userID string, status models.DeliveryStatus, event string) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID == userID {
		// Senders have no delivery record for their own messages.
		return nil
	}

	rec, err := s.store.UpsertDeliveryRecord(ctx, messageID, userID, status)
	if errors.Is(err, models.ErrInvalidTransition) {
		// Out-of-order ack (delivered after read): already normalized, no-op.
		return nil
	}
	if err != nil {
		return err
	}

	s.bcast.EmitToUser(msg.SenderID, event,
		models.DeliveryPayload{MessageID: messageID, UserID: userID, Status: rec.Status})
	return nil
}

// Edit rewrites a message's content. Only the original sender may edit, the
// edited flag is set, and delivery history is untouched.
func (s *Service) Edit(ctx context.Context, userID, messageID, content string) (*models.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, models.ErrAccessDenied
	}
	if msg.Deleted {
		return nil, models.ErrNotFound
	}

	updated, err := s.store.EditMessage(ctx, messageID, content)
	if err != nil {
		return nil, err
	}

	s.invalidateWindow(ctx, updated.ConversationID)
	s.bcast.BroadcastToRoom(updated.ConversationID, models.EventMessageEdited,
		models.MessagePayload{Message: updated}, userID)
	return updated, nil
}

// Delete tombstones a message. The row and its delivery records remain for
// ordering continuity; only the content is gone.
func (s *Service) Delete(ctx context.Context, userID, messageID string) (*models.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, models.ErrAccessDenied
	}

	deleted, err := s.store.DeleteMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	s.invalidateWindow(ctx, deleted.ConversationID)
	s.bcast.BroadcastToRoom(deleted.ConversationID, models.EventMessageDeleted,
		models.MessagePayload{Message: deleted}, userID)
	return deleted, nil
}

// invalidateWindow drops the cached window after a mutation so readers never
// see stale content. The next history fetch repopulates from the store.
func (s *Service) invalidateWindow(ctx context.Context, conversationID string) {
	_ = s.cache.DropWindow(ctx, conversationID)
}

// History fetches a conversation's recent messages. The first unfiltered page
// is served from the cached window when the window can cover it entirely;
// every other shape of request, a cache miss, or cache unavailability falls
// back to the durable store. Both paths return identical content and order:
// the cache is an accelerator, never a divergent view.
func (s *Service) History(ctx context.Context, userID, conversationID string, beforeSeq int64, limit int, typeFilter models.MessageType) ([]*models.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	if beforeSeq == 0 && typeFilter == "" && limit <= s.windowSize {
		if msgs, ok := s.readWindow(ctx, conversationID, limit); ok {
			return msgs, nil
		}
	}

	return s.store.ListMessages(ctx, conversationID, beforeSeq, limit, typeFilter)
}

// readWindow returns (page, true) only when the cache holds a full page; a
// short window means the requested page extends beyond it and the store must
// answer instead.
func (s *Service) readWindow(ctx context.Context, conversationID string, limit int) ([]*models.Message, bool) {
	serialized, err := s.cache.ReadWindow(ctx, conversationID, limit)
	if err != nil || len(serialized) < limit {
		return nil, false
	}

	msgs := make([]*models.Message, 0, limit)
	for _, raw := range serialized[:limit] {
		msg := &models.Message{}
		if err := json.Unmarshal([]byte(raw), msg); err != nil {
			s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("corrupt window entry, falling back to store")
			return nil, false
		}
		msgs = append(msgs, msg)
	}
	return msgs, true
}

// UnreadCount reports how many messages addressed to the user are not yet
// read.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.store.UnreadCount(ctx, userID)
}

func (s *Service) requireParticipant(ctx context.Context, conversationID, userID string) error {
	return requireParticipant(ctx, s.store, conversationID, userID)
}

// requireParticipant refuses any operation from a user who is not a
// participant of record in the conversation.
func requireParticipant(ctx context.Context, src ParticipantSource, conversationID, userID string) error {
	participants, err := src.GetConversationParticipants(ctx, conversationID)
	if err != nil {
		return err
	}
	for _, p := range participants {
		if p == userID {
			return nil
		}
	}
	return models.ErrAccessDenied
}
