package cache

import (
	"context"
	"time"

	"github.com/emberlyhq/emberly-backend/internal/models"
)

// Noop is the cache used when no VALKEY_URL is configured. Every call reports
// unavailability, which exercises the same store-only fallback paths a cache
// outage would.
type Noop struct{}

func (Noop) PushToWindow(context.Context, string, string) error { return models.ErrDependencyUnavailable }

func (Noop) ReadWindow(context.Context, string, int) ([]string, error) {
	return nil, models.ErrDependencyUnavailable
}

func (Noop) DropWindow(context.Context, string) error { return models.ErrDependencyUnavailable }

func (Noop) SetWithTTL(context.Context, string, string, time.Duration) error {
	return models.ErrDependencyUnavailable
}

func (Noop) Get(context.Context, string) (string, error) {
	return "", models.ErrDependencyUnavailable
}

func (Noop) Delete(context.Context, string) error { return models.ErrDependencyUnavailable }

func (Noop) AddToSet(context.Context, string, string) error { return models.ErrDependencyUnavailable }

func (Noop) RemoveFromSet(context.Context, string, string) error {
	return models.ErrDependencyUnavailable
}

func (Noop) MembersOf(context.Context, string) ([]string, error) {
	return nil, models.ErrDependencyUnavailable
}
