package cache

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Per-account command queue on a sorted set. The score encodes priority and
// insertion order in one number: priority*1e12 - row id. ZPOPMAX then yields
// highest priority first and, inside a priority band, the oldest row first.
const queueScoreBase = 1e12

// QueueKey returns the sorted-set key for one account's command queue
func QueueKey(accountID int64) string {
	return fmt.Sprintf("tradebridge:queue:%d", accountID)
}

// QueueScore computes the delivery-order score for a command row
func QueueScore(priority int, rowID int64) float64 {
	return float64(priority)*queueScoreBase - float64(rowID)
}

// EnqueueCommand adds a persisted command row to the account's queue. The
// database row must exist before this runs so a crash between the two leaves
// a recoverable PENDING row rather than a dangling queue entry.
func (c *Client) EnqueueCommand(ctx context.Context, accountID int64, rowID int64, priority int) error {
	_, err := c.guarded(func() (interface{}, error) {
		return c.rdb.ZAdd(ctx, QueueKey(accountID), redis.Z{
			Score:  QueueScore(priority, rowID),
			Member: strconv.FormatInt(rowID, 10),
		}).Result()
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue command %d for account %d: %w", rowID, accountID, err)
	}
	return nil
}

// PopCommands removes and returns up to n command row ids in delivery order
func (c *Client) PopCommands(ctx context.Context, accountID int64, n int) ([]int64, error) {
	res, err := c.guarded(func() (interface{}, error) {
		return c.rdb.ZPopMax(ctx, QueueKey(accountID), int64(n)).Result()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pop commands for account %d: %w", accountID, err)
	}

	members := res.([]redis.Z)
	ids := make([]int64, 0, len(members))
	for _, z := range members {
		id, err := strconv.ParseInt(z.Member.(string), 10, 64)
		if err != nil {
			log.Warn().Interface("member", z.Member).Msg("Dropping malformed queue entry")
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// RemoveCommand deletes one entry from the queue, used when a command is
// cancelled before delivery.
func (c *Client) RemoveCommand(ctx context.Context, accountID int64, rowID int64) error {
	_, err := c.guarded(func() (interface{}, error) {
		return c.rdb.ZRem(ctx, QueueKey(accountID), strconv.FormatInt(rowID, 10)).Result()
	})
	if err != nil {
		return fmt.Errorf("failed to remove command %d from queue: %w", rowID, err)
	}
	return nil
}

// QueueDepth returns the number of undelivered commands for an account
func (c *Client) QueueDepth(ctx context.Context, accountID int64) (int64, error) {
	res, err := c.guarded(func() (interface{}, error) {
		return c.rdb.ZCard(ctx, QueueKey(accountID)).Result()
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth for account %d: %w", accountID, err)
	}
	return res.(int64), nil
}

// QueueEntry is one (row id, priority) pair for queue rebuild
type QueueEntry struct {
	RowID    int64
	Priority int
}

// RebuildQueue replaces an account's queue with the given entries. Startup
// recovery calls this with the PENDING rows from the database.
func (c *Client) RebuildQueue(ctx context.Context, accountID int64, entries []QueueEntry) error {
	key := QueueKey(accountID)

	_, err := c.guarded(func() (interface{}, error) {
		pipe := c.rdb.TxPipeline()
		pipe.Del(ctx, key)
		if len(entries) > 0 {
			members := make([]redis.Z, len(entries))
			for i, e := range entries {
				members[i] = redis.Z{
					Score:  QueueScore(e.Priority, e.RowID),
					Member: strconv.FormatInt(e.RowID, 10),
				}
			}
			pipe.ZAdd(ctx, key, members...)
		}
		return pipe.Exec(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild queue for account %d: %w", accountID, err)
	}

	log.Info().
		Int64("account_id", accountID).
		Int("entries", len(entries)).
		Msg("Command queue rebuilt")
	return nil
}
