package models

import "time"

// MessageType discriminates the content kind of a chat message.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageVoice  MessageType = "voice"
	MessageImage  MessageType = "image"
	MessageSystem MessageType = "system"
)

// ValidMessageType reports whether t is one of the accepted message types.
func ValidMessageType(t MessageType) bool {
	switch t {
	case MessageText, MessageVoice, MessageImage, MessageSystem:
		return true
	}
	return false
}

// Message is a durable chat message. The ID is server-assigned; the
// idempotency key is client-generated and unique per conversation, so a
// retried submission resolves to the original row. Once deleted, Content is
// replaced by a tombstone but the row is retained for ordering continuity.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	ReplyToID      *string     `json:"reply_to_id,omitempty"`
	IdempotencyKey string      `json:"-"`
	Seq            int64       `json:"seq"`
	Timestamp      time.Time   `json:"timestamp"`
	Edited         bool        `json:"edited"`
	EditedAt       *time.Time  `json:"edited_at,omitempty"`
	Deleted        bool        `json:"deleted"`
}

// Tombstone is the content a deleted message is rewritten to.
const Tombstone = ""

// ConversationType distinguishes fixed two-party conversations from ad hoc
// multi-party ones. Direct participant sets are immutable after creation.
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// Conversation is a durable room with a fixed participant set.
type Conversation struct {
	ID              string           `json:"id"`
	Type            ConversationType `json:"type"`
	Participants    []string         `json:"participants"`
	CreatedBy       string           `json:"created_by"`
	CreatedAt       time.Time        `json:"created_at"`
	LastActivityAt  time.Time        `json:"last_activity_at"`
	FirstResponseAt *time.Time       `json:"first_response_at,omitempty"`
}

// HasParticipant reports whether userID is a participant of record.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// DeliveryStatus is the per-recipient delivery state of a message. Transitions
// are monotonic: sent -> delivered -> read, never backwards.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

// Rank orders delivery statuses so monotonicity checks reduce to an integer
// comparison. Unknown statuses rank below sent.
func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// DeliveryRecord tracks one (message, recipient) pair.
type DeliveryRecord struct {
	MessageID   string         `json:"message_id"`
	UserID      string         `json:"user_id"`
	Status      DeliveryStatus `json:"status"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	ReadAt      *time.Time     `json:"read_at,omitempty"`
}
