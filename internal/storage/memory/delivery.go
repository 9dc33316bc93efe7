package memory

import (
	"context"

	"github.com/emberlyhq/emberly-backend/internal/models"
)

func (s *Store) UpsertDeliveryRecord(_ context.Context, messageID, userID string, status models.DeliveryStatus) (*models.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, ok := s.deliveries[messageID]
	if !ok {
		return nil, models.ErrNotFound
	}
	rec, ok := records[userID]
	if !ok {
		return nil, models.ErrNotFound
	}

	if status.Rank() < rec.Status.Rank() {
		return cloneDeliveryRecord(rec), models.ErrInvalidTransition
	}
	if status.Rank() == rec.Status.Rank() {
		return cloneDeliveryRecord(rec), nil
	}

	now := s.Now()
	rec.Status = status
	if status.Rank() >= models.StatusDelivered.Rank() && rec.DeliveredAt == nil {
		t := now
		rec.DeliveredAt = &t
	}
	if status == models.StatusRead && rec.ReadAt == nil {
		t := now
		rec.ReadAt = &t
	}
	return cloneDeliveryRecord(rec), nil
}

func (s *Store) GetDeliveryRecord(_ context.Context, messageID, userID string) (*models.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.deliveries[messageID]
	if !ok {
		return nil, models.ErrNotFound
	}
	rec, ok := records[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneDeliveryRecord(rec), nil
}

func (s *Store) UnreadCount(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, records := range s.deliveries {
		if rec, ok := records[userID]; ok && rec.Status != models.StatusRead {
			count++
		}
	}
	return count, nil
}

func cloneDeliveryRecord(rec *models.DeliveryRecord) *models.DeliveryRecord {
	out := *rec
	if rec.DeliveredAt != nil {
		t := *rec.DeliveredAt
		out.DeliveredAt = &t
	}
	if rec.ReadAt != nil {
		t := *rec.ReadAt
		out.ReadAt = &t
	}
	return &out
}
