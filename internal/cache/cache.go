// Package cache wraps Redis for the fast-path state the bridge keeps out of
// PostgreSQL: the per-account command queues, the latest tick per symbol and
// short-lived rate-limit keys. Redis contents are reconstructible; the
// database stays the source of truth.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradebridge/internal/config"
)

// Breaker guards Redis round-trips. The risk package provides a gobreaker
// instance in production; tests pass a passthrough.
type Breaker interface {
	Execute(func() (interface{}, error)) (interface{}, error)
}

// PassthroughBreaker executes calls directly, used in tests and as the
// default when no guard is configured.
type PassthroughBreaker struct{}

// Execute runs fn without any breaker logic
func (PassthroughBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return fn()
}

// Client is the shared Redis handle
type Client struct {
	rdb     *redis.Client
	breaker Breaker
}

// New connects to Redis and verifies the connection
func New(cfg config.RedisConfig, breaker Breaker) (*Client, error) {
	if breaker == nil {
		breaker = PassthroughBreaker{}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.GetRedisAddr(), err)
	}

	log.Info().Str("addr", cfg.GetRedisAddr()).Int("db", cfg.DB).Msg("Redis connected")

	return &Client{rdb: rdb, breaker: breaker}, nil
}

// NewFromClient wraps an existing go-redis client (miniredis in tests)
func NewFromClient(rdb *redis.Client, breaker Breaker) *Client {
	if breaker == nil {
		breaker = PassthroughBreaker{}
	}
	return &Client{rdb: rdb, breaker: breaker}
}

// Close releases the underlying connection pool
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health pings Redis
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// guarded routes a Redis call through the breaker
func (c *Client) guarded(fn func() (interface{}, error)) (interface{}, error) {
	return c.breaker.Execute(fn)
}
