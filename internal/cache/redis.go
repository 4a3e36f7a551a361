// Package cache wraps an optional Redis client for state that should
// survive a process restart: the ConsolidationEngine's per-character
// idle-trigger lock and Gateway's inbound-message dedup window.
// Grounded on internal/skills/redis_cache.go's nil-safe client wrapper.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"lumina/internal/config"
)

// Client is a nil-safe Redis wrapper: every method on a nil *Client is
// a harmless no-op, so callers can hold a possibly-nil *Client without
// branching on whether Redis is configured.
type Client struct {
	rdb *redis.Client
	log zerolog.Logger
}

// New returns nil, nil when cfg.Addr is empty (Redis not configured).
func New(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (*Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}
	return &Client{rdb: rdb, log: log}, nil
}

// Close is a no-op on a nil Client.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

// TryLock acquires a TTL-bound lock for key using SETNX, so two
// processes (or a crashed-and-restarted process within the TTL window)
// never both fire the same idle trigger. Always succeeds on a nil
// Client, so a deployment without Redis falls back to the in-process
// mutex that already guards ConsolidationEngine cycles.
func (c *Client) TryLock(ctx context.Context, key string, ttl time.Duration) bool {
	if c == nil {
		return true
	}
	ok, err := c.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache: redis lock failed, allowing caller to proceed")
		return true
	}
	return ok
}

// SeenRecently reports whether key was already marked within window,
// and marks it. Used for Gateway's (session_id,text) dedup so a
// message resubmitted across a reconnect within window is dropped
// even though the in-process gateway.Client that saw it first is gone.
func (c *Client) SeenRecently(ctx context.Context, key string, window time.Duration) bool {
	if c == nil {
		return false
	}
	ok, err := c.rdb.SetNX(ctx, key, "1", window).Result()
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache: redis dedup check failed, allowing message through")
		return false
	}
	return !ok
}
