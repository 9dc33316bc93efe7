package cache

import (
	"context"
	"time"
)

// Cache is the ephemeral cache contract consumed by the hub, the message
// pipeline and the signal tracker. Implementations must be best-effort: a
// failed or timed-out call returns an error wrapping
// models.ErrDependencyUnavailable and every caller has a store-only fallback.
// The cache is never the source of truth.
type Cache interface {
	// Bounded most-recent-first message window per conversation.
	PushToWindow(ctx context.Context, conversationID, serialized string) error
	ReadWindow(ctx context.Context, conversationID string, limit int) ([]string, error)
	DropWindow(ctx context.Context, conversationID string) error

	// Generic TTL key/value, used for presence and ephemeral signals.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error

	// Room membership sets.
	AddToSet(ctx context.Context, key, member string) error
	RemoveFromSet(ctx context.Context, key, member string) error
	MembersOf(ctx context.Context, key string) ([]string, error)
}

// Key builders shared by callers so the keyspace stays in one place.

func WindowKey(conversationID string) string  { return "conv:" + conversationID + ":window" }
func MembersKey(conversationID string) string { return "conv:" + conversationID + ":members" }
func PresenceKey(userID string) string        { return "presence:" + userID }

func SignalKey(kind, conversationID, userID string) string {
	return "signal:" + kind + ":" + conversationID + ":" + userID
}
