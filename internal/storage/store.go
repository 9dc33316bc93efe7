package storage

import (
	"context"

	"github.com/emberlyhq/emberly-backend/internal/models"
)

// Store is the durable message store contract. The postgres implementation
// backs production; the memory implementation mirrors its semantics for tests
// and local development. The store exclusively owns Conversation, Message and
// DeliveryRecord lifecycle and correctness; nothing upstream caches or
// broadcasts until the store has accepted the write.
type Store interface {
	Close() error
	Ping(ctx context.Context) error

	// Conversations. Creating a direct conversation for a pair that already
	// has one returns the existing conversation instead of a duplicate.
	CreateConversation(ctx context.Context, convType models.ConversationType, createdBy string, participants []string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error)
	GetConversationParticipants(ctx context.Context, id string) ([]string, error)

	// TouchConversation bumps last-activity and, when responderID differs
	// from the conversation creator and no response has been recorded yet,
	// stamps the first-response timestamp.
	TouchConversation(ctx context.Context, id, responderID string) error

	// CreateMessage persists a message, assigns id/seq/timestamp and creates
	// delivery records at "sent" for every participant except the sender.
	// A duplicate (conversation, idempotency key) returns the original
	// message together with models.ErrConflict.
	CreateMessage(ctx context.Context, conversationID, senderID, content string, msgType models.MessageType, idempotencyKey string, replyToID *string) (*models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)

	// ListMessages returns messages in authoritative order, newest first
	// (descending seq). A beforeSeq cursor above zero restricts to messages
	// with a strictly smaller seq, so pagination never skips rows that share
	// a timestamp.
	ListMessages(ctx context.Context, conversationID string, beforeSeq int64, limit int, typeFilter models.MessageType) ([]*models.Message, error)

	EditMessage(ctx context.Context, id, content string) (*models.Message, error)
	DeleteMessage(ctx context.Context, id string) (*models.Message, error)

	// UpsertDeliveryRecord applies a monotonic status transition and returns
	// models.ErrInvalidTransition when the requested status would regress.
	UpsertDeliveryRecord(ctx context.Context, messageID, userID string, status models.DeliveryStatus) (*models.DeliveryRecord, error)
	GetDeliveryRecord(ctx context.Context, messageID, userID string) (*models.DeliveryRecord, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}
