package chat

import (
	"context"
	"sync"
	"time"

	"github.com/emberlyhq/emberly-backend/internal/models"
)

// fakeBroadcaster records fan-out calls so tests can assert what reached the
// room without a real hub.
type fakeBroadcaster struct {
	mu     sync.Mutex
	online map[string]bool
	events []recordedEvent
}

type recordedEvent struct {
	ConversationID string
	UserID         string // EmitToUser target, "" for room broadcasts
	Event          string
	Data           any
	Excluded       string
}

func newFakeBroadcaster(online ...string) *fakeBroadcaster {
	b := &fakeBroadcaster{online: make(map[string]bool)}
	for _, userID := range online {
		b.online[userID] = true
	}
	return b
}

func (b *fakeBroadcaster) BroadcastToRoom(conversationID, event string, data any, excludeUserID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{
		ConversationID: conversationID, Event: event, Data: data, Excluded: excludeUserID,
	})
}

func (b *fakeBroadcaster) EmitToUser(userID, event string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.online[userID] {
		return
	}
	b.events = append(b.events, recordedEvent{UserID: userID, Event: event, Data: data})
}

func (b *fakeBroadcaster) IsOnline(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online[userID]
}

func (b *fakeBroadcaster) recorded(event string) []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []recordedEvent
	for _, e := range b.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// fakeCache is an in-memory cache.Cache whose availability can be toggled, so
// tests cover both the accelerated and the store-only paths.
type fakeCache struct {
	mu      sync.Mutex
	down    bool
	windows map[string][]string
	kv      map[string]string
	sets    map[string]map[string]bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		windows: make(map[string][]string),
		kv:      make(map[string]string),
		sets:    make(map[string]map[string]bool),
	}
}

func (c *fakeCache) setDown(down bool) {
	c.mu.Lock()
	c.down = down
	c.mu.Unlock()
}

func (c *fakeCache) unavailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.down
}

func (c *fakeCache) PushToWindow(_ context.Context, conversationID, serialized string) error {
	if c.unavailable() {
		return models.ErrDependencyUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows[conversationID] = append([]string{serialized}, c.windows[conversationID]...)
	return nil
}

func (c *fakeCache) ReadWindow(_ context.Context, conversationID string, limit int) ([]string, error) {
	if c.unavailable() {
		return nil, models.ErrDependencyUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	window := c.windows[conversationID]
	if len(window) > limit {
		window = window[:limit]
	}
	return append([]string(nil), window...), nil
}

func (c *fakeCache) DropWindow(_ context.Context, conversationID string) error {
	if c.unavailable() {
		return models.ErrDependencyUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.windows, conversationID)
	return nil
}

func (c *fakeCache) SetWithTTL(_ context.Context, key, value string, _ time.Duration) error {
	if c.unavailable() {
		return models.ErrDependencyUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kv[key] = value
	return nil
}

func (c *fakeCache) Get(_ context.Context, key string) (string, error) {
	if c.unavailable() {
		return "", models.ErrDependencyUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kv[key], nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	if c.unavailable() {
		return models.ErrDependencyUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.kv, key)
	return nil
}

func (c *fakeCache) AddToSet(_ context.Context, key, member string) error {
	if c.unavailable() {
		return models.ErrDependencyUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sets[key] == nil {
		c.sets[key] = make(map[string]bool)
	}
	c.sets[key][member] = true
	return nil
}

func (c *fakeCache) RemoveFromSet(_ context.Context, key, member string) error {
	if c.unavailable() {
		return models.ErrDependencyUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sets[key], member)
	return nil
}

func (c *fakeCache) MembersOf(_ context.Context, key string) ([]string, error) {
	if c.unavailable() {
		return nil, models.ErrDependencyUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var members []string
	for member := range c.sets[key] {
		members = append(members, member)
	}
	return members, nil
}
