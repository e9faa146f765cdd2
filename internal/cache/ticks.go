package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ajitpratap0/tradebridge/internal/db"
)

const (
	latestTickTTL = 30 * time.Second
)

func tickKey(symbol string) string {
	return "tradebridge:tick:" + symbol
}

func slMoveKey(tradeID int64) string {
	return fmt.Sprintf("tradebridge:slmove:%d", tradeID)
}

// SetLatestTick caches the most recent quote for a symbol with a short TTL,
// so readers can tell a quiet market from a dead feed.
func (c *Client) SetLatestTick(ctx context.Context, tick *db.Tick) error {
	data, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("failed to marshal tick for %s: %w", tick.Symbol, err)
	}
	_, err = c.guarded(func() (interface{}, error) {
		return c.rdb.Set(ctx, tickKey(tick.Symbol), data, latestTickTTL).Result()
	})
	if err != nil {
		return fmt.Errorf("failed to cache tick for %s: %w", tick.Symbol, err)
	}
	return nil
}

// LatestTick returns the cached quote for a symbol, or nil when the cache is
// cold or the entry expired.
func (c *Client) LatestTick(ctx context.Context, symbol string) (*db.Tick, error) {
	res, err := c.guarded(func() (interface{}, error) {
		return c.rdb.Get(ctx, tickKey(symbol)).Result()
	})
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached tick for %s: %w", symbol, err)
	}

	var tick db.Tick
	if err := json.Unmarshal([]byte(res.(string)), &tick); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached tick for %s: %w", symbol, err)
	}
	return &tick, nil
}

// TrySLMove acquires the per-trade trailing-stop rate limit. Returns true
// when the caller may issue a MODIFY_TRADE now; false while a prior move is
// still inside the cooldown window.
func (c *Client) TrySLMove(ctx context.Context, tradeID int64, cooldown time.Duration) (bool, error) {
	res, err := c.guarded(func() (interface{}, error) {
		return c.rdb.SetNX(ctx, slMoveKey(tradeID), 1, cooldown).Result()
	})
	if err != nil {
		return false, fmt.Errorf("failed to acquire SL-move lock for trade %d: %w", tradeID, err)
	}
	return res.(bool), nil
}

// ClearSLMove releases the rate-limit key early, used when the issued modify
// command failed and a retry should not wait out the window.
func (c *Client) ClearSLMove(ctx context.Context, tradeID int64) error {
	_, err := c.guarded(func() (interface{}, error) {
		return c.rdb.Del(ctx, slMoveKey(tradeID)).Result()
	})
	if err != nil {
		return fmt.Errorf("failed to clear SL-move lock for trade %d: %w", tradeID, err)
	}
	return nil
}
