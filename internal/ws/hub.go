package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/emberlyhq/emberly-backend/internal/cache"
	"github.com/emberlyhq/emberly-backend/internal/metrics"
	"github.com/emberlyhq/emberly-backend/internal/models"
)

// ParticipantSource is the slice of the durable store the hub needs to admit
// a user into a room.
type ParticipantSource interface {
	GetConversationParticipants(ctx context.Context, conversationID string) ([]string, error)
}

// Hub owns the session table and the room membership map. Sessions are keyed
// by user id with at most one active connection per user; rooms are keyed by
// conversation id. Both maps are guarded by a single RWMutex, so each key has
// a single writer at a time and fan-out reads never block each other.
type Hub struct {
	store  ParticipantSource
	cache  cache.Cache
	logger zerolog.Logger

	presenceTTL time.Duration

	mu          sync.RWMutex
	sessions    map[string]*Client
	lastSeen    map[string]time.Time
	rooms       map[string]map[string]*Client // conversationID -> userID -> client
	clientRooms map[*Client]map[string]bool

	// OnDisconnect runs after a session is fully deregistered; the signal
	// tracker hooks in here to cancel the user's outstanding typing state.
	OnDisconnect func(userID string)
}

func NewHub(store ParticipantSource, c cache.Cache, logger zerolog.Logger, presenceTTL time.Duration) *Hub {
	return &Hub{
		store:       store,
		cache:       c,
		logger:      logger.With().Str("component", "hub").Logger(),
		presenceTTL: presenceTTL,
		sessions:    make(map[string]*Client),
		lastSeen:    make(map[string]time.Time),
		rooms:       make(map[string]map[string]*Client),
		clientRooms: make(map[*Client]map[string]bool),
	}
}

// Register admits an authenticated client. A newer connection for the same
// user supersedes the session record and the stale socket is closed; the
// superseded disconnect does not emit user:offline because the user never
// went offline.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	old := h.sessions[c.UserID]
	h.sessions[c.UserID] = c
	h.clientRooms[c] = make(map[string]bool)
	h.mu.Unlock()

	if old != nil {
		h.logger.Info().Str("user_id", c.UserID).Msg("session superseded by newer connection")
		old.Close()
	}

	metrics.OnlineSessions.Inc()

	h.broadcastAll(models.EventUserOnline, models.PresencePayload{UserID: c.UserID}, c.UserID)

	if err := h.cache.SetWithTTL(context.Background(), cache.PresenceKey(c.UserID), "online", h.presenceTTL); err != nil {
		// Presence in the cache is best-effort; the session table is local truth.
		h.logger.Debug().Err(err).Str("user_id", c.UserID).Msg("presence cache write skipped")
	}
}

// Unregister tears a client down: room membership is dropped, and if the
// client still owns the session record the user is marked offline with a
// last-seen stamp broadcast to everyone else.
func (h *Hub) Unregister(c *Client) {
	now := time.Now()

	h.mu.Lock()
	wasCurrent := h.sessions[c.UserID] == c
	if wasCurrent {
		delete(h.sessions, c.UserID)
		h.lastSeen[c.UserID] = now
	}
	for conversationID := range h.clientRooms[c] {
		h.removeFromRoomLocked(conversationID, c.UserID)
	}
	delete(h.clientRooms, c)
	h.mu.Unlock()

	metrics.OnlineSessions.Dec()

	if !wasCurrent {
		return
	}

	h.broadcastAll(models.EventUserOffline, models.PresencePayload{UserID: c.UserID, LastSeen: &now}, c.UserID)

	if err := h.cache.Delete(context.Background(), cache.PresenceKey(c.UserID)); err != nil {
		h.logger.Debug().Err(err).Str("user_id", c.UserID).Msg("presence cache delete skipped")
	}

	if h.OnDisconnect != nil {
		h.OnDisconnect(c.UserID)
	}
}

func (h *Hub) removeFromRoomLocked(conversationID, userID string) {
	if members, ok := h.rooms[conversationID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// Join admits the client into a room after verifying against the durable
// store that the user is a participant of record. Membership is mirrored to
// the cache best-effort and the room is notified.
func (h *Hub) Join(ctx context.Context, c *Client, conversationID string) error {
	participants, err := h.store.GetConversationParticipants(ctx, conversationID)
	if err != nil {
		return err
	}
	member := false
	for _, p := range participants {
		if p == c.UserID {
			member = true
			break
		}
	}
	if !member {
		return models.ErrAccessDenied
	}

	h.mu.Lock()
	if h.rooms[conversationID] == nil {
		h.rooms[conversationID] = make(map[string]*Client)
	}
	h.rooms[conversationID][c.UserID] = c
	h.clientRooms[c][conversationID] = true
	c.ConversationID = conversationID
	h.mu.Unlock()

	if err := h.cache.AddToSet(ctx, cache.MembersKey(conversationID), c.UserID); err != nil {
		h.logger.Debug().Err(err).Str("conversation_id", conversationID).Msg("membership cache write skipped")
	}

	h.BroadcastToRoom(conversationID, models.EventUserJoined,
		models.MembershipPayload{UserID: c.UserID, ConversationID: conversationID}, c.UserID)
	return nil
}

// Leave removes the client from a room and notifies the remaining members.
func (h *Hub) Leave(ctx context.Context, c *Client, conversationID string) {
	h.mu.Lock()
	h.removeFromRoomLocked(conversationID, c.UserID)
	delete(h.clientRooms[c], conversationID)
	if c.ConversationID == conversationID {
		c.ConversationID = ""
	}
	h.mu.Unlock()

	if err := h.cache.RemoveFromSet(ctx, cache.MembersKey(conversationID), c.UserID); err != nil {
		h.logger.Debug().Err(err).Str("conversation_id", conversationID).Msg("membership cache delete skipped")
	}

	h.BroadcastToRoom(conversationID, models.EventUserLeft,
		models.MembershipPayload{UserID: c.UserID, ConversationID: conversationID}, c.UserID)
}

// BroadcastToRoom delivers an event to every currently connected member of
// the room except excludeUserID. Members without a connection simply miss the
// event; they catch up through history on reconnect.
func (h *Hub) BroadcastToRoom(conversationID, event string, data any, excludeUserID string) {
	frame, err := json.Marshal(models.OutEnvelope{Event: event, Data: data})
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("marshal broadcast payload")
		return
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[conversationID]))
	for userID, client := range h.rooms[conversationID] {
		if userID == excludeUserID {
			continue
		}
		members = append(members, client)
	}
	h.mu.RUnlock()

	for _, client := range members {
		client.enqueue(frame)
	}
	metrics.EventsFannedOut.WithLabelValues(event).Add(float64(len(members)))
}

// EmitToUser routes an event to the user's current connection, silently
// dropping it when the user is offline. No queuing.
func (h *Hub) EmitToUser(userID, event string, data any) {
	h.mu.RLock()
	client := h.sessions[userID]
	h.mu.RUnlock()
	if client == nil {
		return
	}

	frame, err := json.Marshal(models.OutEnvelope{Event: event, Data: data})
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("marshal emit payload")
		return
	}
	client.enqueue(frame)
	metrics.EventsFannedOut.WithLabelValues(event).Inc()
}

// broadcastAll sends a presence event to every connected session except one.
func (h *Hub) broadcastAll(event string, data any, excludeUserID string) {
	frame, err := json.Marshal(models.OutEnvelope{Event: event, Data: data})
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("marshal presence payload")
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.sessions))
	for userID, client := range h.sessions {
		if userID == excludeUserID {
			continue
		}
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.enqueue(frame)
	}
	metrics.EventsFannedOut.WithLabelValues(event).Add(float64(len(clients)))
}

// IsOnline reports whether the user has an active session.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[userID]
	return ok
}

// OnlineUsers returns the ids of all currently connected users.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.sessions))
	for userID := range h.sessions {
		users = append(users, userID)
	}
	return users
}

// LastSeen returns the recorded last-seen time for a user, if any.
func (h *Hub) LastSeen(userID string) (time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.lastSeen[userID]
	return t, ok
}

// RoomMembers returns the user ids currently subscribed to a room.
func (h *Hub) RoomMembers(conversationID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := make([]string, 0, len(h.rooms[conversationID]))
	for userID := range h.rooms[conversationID] {
		members = append(members, userID)
	}
	return members
}

// RefreshPresence re-arms the cache presence key; called from the heartbeat.
func (h *Hub) RefreshPresence(userID string) {
	if err := h.cache.SetWithTTL(context.Background(), cache.PresenceKey(userID), "online", h.presenceTTL); err != nil {
		h.logger.Debug().Err(err).Str("user_id", userID).Msg("presence cache refresh skipped")
	}
}
