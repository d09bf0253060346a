package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/castlefield/tickbook/internal/domain"
)

// TickCache implements domain.TickCache using Redis hashes. Each lane's
// last-observed tick is stored under the namespaced key
// "<ns>:tick:{marketID}:{outcome}" with fields "tick" and "ts" (Unix
// nanosecond timestamp). The engine is the only writer; readers get price
// state without touching the engine.
type TickCache struct {
	client *Client
	rdb    *redis.Client
}

// NewTickCache creates a TickCache backed by the given Client.
func NewTickCache(c *Client) *TickCache {
	return &TickCache{client: c, rdb: c.Underlying()}
}

func (tc *TickCache) key(marketID string, outcome int) string {
	return tc.client.Key("tick", marketID, strconv.Itoa(outcome))
}

// SetTick stores the last-observed tick and timestamp for a lane.
func (tc *TickCache) SetTick(ctx context.Context, marketID string, outcome int, tick int64, ts time.Time) error {
	fields := map[string]interface{}{
		"tick": strconv.FormatInt(tick, 10),
		"ts":   strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := tc.rdb.HSet(ctx, tc.key(marketID, outcome), fields).Err(); err != nil {
		return fmt.Errorf("redis: set tick %s/%d: %w", marketID, outcome, err)
	}
	return nil
}

// GetTick retrieves the last-observed tick and timestamp for a lane.
// It returns domain.ErrNotFound when the key does not exist.
func (tc *TickCache) GetTick(ctx context.Context, marketID string, outcome int) (int64, time.Time, error) {
	vals, err := tc.rdb.HGetAll(ctx, tc.key(marketID, outcome)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get tick %s/%d: %w", marketID, outcome, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	tickStr, ok := vals["tick"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tick, err := strconv.ParseInt(tickStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse tick %s/%d: %w", marketID, outcome, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s/%d: %w", marketID, outcome, err)
	}

	return tick, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.TickCache = (*TickCache)(nil)
