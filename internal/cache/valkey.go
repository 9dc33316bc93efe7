package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/valkey-io/valkey-go"

	"github.com/emberlyhq/emberly-backend/internal/metrics"
	"github.com/emberlyhq/emberly-backend/internal/models"
)

// ValkeyCache implements Cache on a valkey/redis-compatible server. Every
// operation runs under its own short timeout so a slow cache degrades to a
// store-only path instead of stalling the pipeline.
type ValkeyCache struct {
	client     valkey.Client
	logger     zerolog.Logger
	opTimeout  time.Duration
	windowSize int
	windowTTL  time.Duration
}

type ValkeyOptions struct {
	URL        string
	OpTimeout  time.Duration
	WindowSize int
	WindowTTL  time.Duration
}

func NewValkeyCache(opts ValkeyOptions, logger zerolog.Logger) (*ValkeyCache, error) {
	clientOpt, err := valkey.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse valkey url: %w", err)
	}

	client, err := valkey.NewClient(clientOpt)
	if err != nil {
		return nil, fmt.Errorf("connect valkey: %w", err)
	}

	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 250 * time.Millisecond
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = 50
	}
	if opts.WindowTTL <= 0 {
		opts.WindowTTL = 10 * time.Minute
	}

	return &ValkeyCache{
		client:     client,
		logger:     logger.With().Str("component", "cache").Logger(),
		opTimeout:  opts.OpTimeout,
		windowSize: opts.WindowSize,
		windowTTL:  opts.WindowTTL,
	}, nil
}

func (c *ValkeyCache) Close() {
	c.client.Close()
}

// fail records the degraded call and normalizes the error so callers only
// ever see ErrDependencyUnavailable from this package.
func (c *ValkeyCache) fail(op string, err error) error {
	metrics.CacheFallbacks.WithLabelValues(op).Inc()
	c.logger.Warn().Err(err).Str("op", op).Msg("cache call failed, falling back")
	return fmt.Errorf("cache %s: %w", op, models.ErrDependencyUnavailable)
}

func (c *ValkeyCache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opTimeout)
}

func (c *ValkeyCache) PushToWindow(ctx context.Context, conversationID, serialized string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	key := WindowKey(conversationID)
	cmds := make(valkey.Commands, 0, 3)
	cmds = append(cmds, c.client.B().Lpush().Key(key).Element(serialized).Build())
	cmds = append(cmds, c.client.B().Ltrim().Key(key).Start(0).Stop(int64(c.windowSize-1)).Build())
	cmds = append(cmds, c.client.B().Expire().Key(key).Seconds(int64(c.windowTTL.Seconds())).Build())
	for _, resp := range c.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return c.fail("push_window", err)
		}
	}
	return nil
}

func (c *ValkeyCache) ReadWindow(ctx context.Context, conversationID string, limit int) ([]string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if limit <= 0 || limit > c.windowSize {
		limit = c.windowSize
	}
	key := WindowKey(conversationID)
	vals, err := c.client.Do(ctx, c.client.B().Lrange().Key(key).Start(0).Stop(int64(limit-1)).Build()).AsStrSlice()
	if err != nil {
		return nil, c.fail("read_window", err)
	}
	return vals, nil
}

func (c *ValkeyCache) DropWindow(ctx context.Context, conversationID string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.Do(ctx, c.client.B().Del().Key(WindowKey(conversationID)).Build()).Error(); err != nil {
		return c.fail("drop_window", err)
	}
	return nil
}

func (c *ValkeyCache) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.Do(ctx, c.client.B().Set().Key(key).Value(value).Ex(ttl).Build()).Error(); err != nil {
		return c.fail("set", err)
	}
	return nil
}

func (c *ValkeyCache) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	val, err := c.client.Do(ctx, c.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return "", nil
		}
		return "", c.fail("get", err)
	}
	return val, nil
}

func (c *ValkeyCache) Delete(ctx context.Context, key string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.Do(ctx, c.client.B().Del().Key(key).Build()).Error(); err != nil {
		return c.fail("del", err)
	}
	return nil
}

func (c *ValkeyCache) AddToSet(ctx context.Context, key, member string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.Do(ctx, c.client.B().Sadd().Key(key).Member(member).Build()).Error(); err != nil {
		return c.fail("sadd", err)
	}
	return nil
}

func (c *ValkeyCache) RemoveFromSet(ctx context.Context, key, member string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.Do(ctx, c.client.B().Srem().Key(key).Member(member).Build()).Error(); err != nil {
		return c.fail("srem", err)
	}
	return nil
}

func (c *ValkeyCache) MembersOf(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	members, err := c.client.Do(ctx, c.client.B().Smembers().Key(key).Build()).AsStrSlice()
	if err != nil {
		return nil, c.fail("smembers", err)
	}
	return members, nil
}
