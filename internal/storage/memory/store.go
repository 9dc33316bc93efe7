package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emberlyhq/emberly-backend/internal/models"
)

// Store is an in-memory implementation of storage.Store. It mirrors the
// postgres semantics (idempotency conflicts, monotonic delivery transitions,
// tombstone deletes, timestamp-descending listing) and backs unit tests and
// cache-less local development.
type Store struct {
	mu sync.RWMutex

	conversations map[string]*models.Conversation
	directIndex   map[string]string // sorted participant pair -> conversation id
	userIndex     map[string][]string

	messages   map[string]*models.Message
	idemIndex  map[string]string // conversationID|idempotencyKey -> message id
	convOrder  map[string][]string
	deliveries map[string]map[string]*models.DeliveryRecord

	seq int64

	// Now is the clock used for server timestamps; tests may replace it.
	Now func() time.Time
}

func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*models.Conversation),
		directIndex:   make(map[string]string),
		userIndex:     make(map[string][]string),
		messages:      make(map[string]*models.Message),
		idemIndex:     make(map[string]string),
		convOrder:     make(map[string][]string),
		deliveries:    make(map[string]map[string]*models.DeliveryRecord),
		Now:           time.Now,
	}
}

func (s *Store) Close() error                 { return nil }
func (s *Store) Ping(_ context.Context) error { return nil }

func directKey(participants []string) string {
	sorted := append([]string(nil), participants...)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

func (s *Store) CreateConversation(_ context.Context, convType models.ConversationType, createdBy string, participants []string) (*models.Conversation, error) {
	if convType == models.ConversationDirect && len(participants) != 2 {
		return nil, fmt.Errorf("direct conversation requires exactly two participants, got %d", len(participants))
	}
	if len(participants) < 2 {
		return nil, fmt.Errorf("conversation requires at least two participants")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if convType == models.ConversationDirect {
		if id, ok := s.directIndex[directKey(participants)]; ok {
			return cloneConversation(s.conversations[id]), nil
		}
	}

	now := s.Now()
	conv := &models.Conversation{
		ID:             uuid.NewString(),
		Type:           convType,
		Participants:   append([]string(nil), participants...),
		CreatedBy:      createdBy,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	s.conversations[conv.ID] = conv
	if convType == models.ConversationDirect {
		s.directIndex[directKey(participants)] = conv.ID
	}
	for _, userID := range participants {
		s.userIndex[userID] = append(s.userIndex[userID], conv.ID)
	}
	return cloneConversation(conv), nil
}

func (s *Store) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneConversation(conv), nil
}

func (s *Store) ListConversations(_ context.Context, userID string) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []*models.Conversation
	for _, id := range s.userIndex[userID] {
		convs = append(convs, cloneConversation(s.conversations[id]))
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].LastActivityAt.After(convs[j].LastActivityAt)
	})
	return convs, nil
}

func (s *Store) GetConversationParticipants(_ context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return append([]string(nil), conv.Participants...), nil
}

func (s *Store) TouchConversation(_ context.Context, id, responderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return models.ErrNotFound
	}
	now := s.Now()
	conv.LastActivityAt = now
	if conv.FirstResponseAt == nil && conv.CreatedBy != responderID {
		t := now
		conv.FirstResponseAt = &t
	}
	return nil
}

func cloneConversation(conv *models.Conversation) *models.Conversation {
	out := *conv
	out.Participants = append([]string(nil), conv.Participants...)
	if conv.FirstResponseAt != nil {
		t := *conv.FirstResponseAt
		out.FirstResponseAt = &t
	}
	return &out
}
