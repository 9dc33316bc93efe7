package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/emberlyhq/emberly-backend/internal/cache"
	"github.com/emberlyhq/emberly-backend/internal/models"
)

// SignalKind distinguishes the two ephemeral activity signals. Both follow
// the identical TTL pattern; only the event names differ.
type SignalKind string

const (
	SignalTyping SignalKind = "typing"
	SignalVoice  SignalKind = "voice"
)

func (k SignalKind) startEvent() string {
	if k == SignalVoice {
		return models.EventVoiceStarted
	}
	return models.EventTypingStart
}

func (k SignalKind) stopEvent() string {
	if k == SignalVoice {
		return models.EventVoiceStopped
	}
	return models.EventTypingStop
}

// ParticipantSource is the slice of the durable store needed to verify that a
// user belongs to a conversation before any signal is accepted from them.
type ParticipantSource interface {
	GetConversationParticipants(ctx context.Context, conversationID string) ([]string, error)
}

// SignalTracker manages typing and voice-note activity signals. Signals are
// never persisted: they live as short-TTL cache keys plus a local expiring
// mirror, so a missed stop broadcast self-heals when the TTL lapses. Readers
// treat an expired signal as stopped with no cleanup dependency.
type SignalTracker struct {
	store  ParticipantSource
	cache  cache.Cache
	bcast  Broadcaster
	logger zerolog.Logger
	ttl    time.Duration

	mu            sync.Mutex
	expiries      map[string]time.Time // signal key -> expiry
	lastBroadcast map[string]time.Time // signal key -> last start event

	now func() time.Time
}

func NewSignalTracker(store ParticipantSource, c cache.Cache, bcast Broadcaster, logger zerolog.Logger, ttl time.Duration) *SignalTracker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &SignalTracker{
		store:         store,
		cache:         c,
		bcast:         bcast,
		logger:        logger.With().Str("component", "signals").Logger(),
		ttl:           ttl,
		expiries:      make(map[string]time.Time),
		lastBroadcast: make(map[string]time.Time),
		now:           time.Now,
	}
}

// Start records or refreshes a signal and broadcasts the start event to the
// room. Only participants of record may signal into a conversation. Repeated
// starts within the debounce window refresh the TTL without re-broadcasting,
// so held-down typing does not storm the room.
func (t *SignalTracker) Start(ctx context.Context, kind SignalKind, userID, conversationID string) error {
	if err := requireParticipant(ctx, t.store, conversationID, userID); err != nil {
		return err
	}

	key := cache.SignalKey(string(kind), conversationID, userID)
	_ = t.cache.SetWithTTL(ctx, key, "1", t.ttl)

	debounce := t.ttl / 3
	t.mu.Lock()
	now := t.now()
	t.expiries[key] = now.Add(t.ttl)
	last, seen := t.lastBroadcast[key]
	broadcast := !seen || now.Sub(last) >= debounce
	if broadcast {
		t.lastBroadcast[key] = now
	}
	t.mu.Unlock()

	if broadcast {
		t.bcast.BroadcastToRoom(conversationID, kind.startEvent(),
			models.SignalEventPayload{UserID: userID, ConversationID: conversationID}, userID)
	}
	return nil
}

// Stop clears a signal explicitly and broadcasts the stop event, subject to
// the same membership check as Start.
func (t *SignalTracker) Stop(ctx context.Context, kind SignalKind, userID, conversationID string) error {
	if err := requireParticipant(ctx, t.store, conversationID, userID); err != nil {
		return err
	}
	t.stop(ctx, kind, userID, conversationID)
	return nil
}

// stop is the unchecked teardown shared by Stop and ClearUser. ClearUser only
// ever sees signals that passed the membership check on Start.
func (t *SignalTracker) stop(ctx context.Context, kind SignalKind, userID, conversationID string) {
	key := cache.SignalKey(string(kind), conversationID, userID)
	_ = t.cache.Delete(ctx, key)

	t.mu.Lock()
	delete(t.expiries, key)
	delete(t.lastBroadcast, key)
	t.mu.Unlock()

	t.bcast.BroadcastToRoom(conversationID, kind.stopEvent(),
		models.SignalEventPayload{UserID: userID, ConversationID: conversationID}, userID)
}

// Active returns the users with an unexpired signal of the given kind in the
// conversation. Expired entries are treated as stopped and purged lazily.
func (t *SignalTracker) Active(kind SignalKind, conversationID string) []string {
	prefix := cache.SignalKey(string(kind), conversationID, "")

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var users []string
	for key, expiry := range t.expiries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if expiry.Before(now) {
			delete(t.expiries, key)
			delete(t.lastBroadcast, key)
			continue
		}
		users = append(users, strings.TrimPrefix(key, prefix))
	}
	return users
}

// ClearUser cancels every outstanding signal a user holds and broadcasts the
// corresponding stop events; called by the hub when the user disconnects.
func (t *SignalTracker) ClearUser(userID string) {
	suffix := ":" + userID

	t.mu.Lock()
	type held struct {
		kind           SignalKind
		conversationID string
	}
	var signals []held
	for key := range t.expiries {
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		// signal:{kind}:{conversation}:{user}
		parts := strings.Split(key, ":")
		if len(parts) != 4 {
			continue
		}
		signals = append(signals, held{kind: SignalKind(parts[1]), conversationID: parts[2]})
	}
	t.mu.Unlock()

	for _, sig := range signals {
		t.stop(context.Background(), sig.kind, userID, sig.conversationID)
	}
}
