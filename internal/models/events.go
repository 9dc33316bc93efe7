package models

import (
	"encoding/json"
	"time"
)

// Event names carried on the real-time channel. Inbound events are what
// clients may send; outbound events are what the server emits.
const (
	// Inbound
	EventConversationJoin  = "conversation:join"
	EventConversationLeave = "conversation:leave"
	EventMessageSend       = "message:send"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventVoiceStart        = "voice:start"
	EventVoiceStop         = "voice:stop"
	EventAckDelivered      = "message:ack-delivered"
	EventAckRead           = "message:ack-read"

	// Outbound
	EventUserOnline       = "user:online"
	EventUserOffline      = "user:offline"
	EventUserJoined       = "user:joined"
	EventUserLeft         = "user:left"
	EventMessageReceived  = "message:received"
	EventMessageDelivered = "message:delivered"
	EventMessageRead      = "message:read"
	EventMessageEdited    = "message:edited"
	EventMessageDeleted   = "message:deleted"
	EventVoiceStarted     = "voice:started"
	EventVoiceStopped     = "voice:stopped"
	EventError            = "error"
)

// Envelope is the wire frame for every real-time event, both directions.
// Data is decoded against the payload struct registered for Event; frames
// with unknown events or payloads missing required fields are answered with
// an error envelope instead of being dispatched.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// OutEnvelope is the outbound counterpart with an already-typed payload.
type OutEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Inbound payloads.

type JoinPayload struct {
	ConversationID string `json:"conversation_id"`
}

type SendPayload struct {
	ConversationID string      `json:"conversation_id"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	IdempotencyKey string      `json:"idempotency_key"`
	ReplyToID      *string     `json:"reply_to_id,omitempty"`
}

type SignalPayload struct {
	ConversationID string `json:"conversation_id"`
}

type AckPayload struct {
	MessageID string `json:"message_id"`
}

// Outbound payloads.

type PresencePayload struct {
	UserID   string     `json:"user_id"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type MembershipPayload struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
}

type MessagePayload struct {
	Message *Message `json:"message"`
}

type DeliveryPayload struct {
	MessageID string         `json:"message_id"`
	UserID    string         `json:"user_id"`
	Status    DeliveryStatus `json:"status"`
}

type SignalEventPayload struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
