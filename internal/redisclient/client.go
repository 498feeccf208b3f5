package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/adjust_stock.lua
var adjustStockScript string

// Client caches the per-product stock projection and guards fulfillment
// requests with idempotency keys. The database is always the source of
// truth; everything here is an eventually-consistent snapshot.
type Client struct {
	rdb          *redis.Client
	adjustScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:          rdb,
		adjustScript: redis.NewScript(adjustStockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(productID int64) string {
	return fmt.Sprintf("stock:%d", productID)
}

// InitStock writes the full stock projection for a product
func (c *Client) InitStock(ctx context.Context, productID int64, total, available, consumed int) error {
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, stockKey(productID), "total", total)
	pipe.HSet(ctx, stockKey(productID), "available", available)
	pipe.HSet(ctx, stockKey(productID), "consumed", consumed)

	_, err := pipe.Exec(ctx)
	return err
}

// AdjustStock atomically shifts the cached available/consumed counters and
// returns the values they landed on.
func (c *Client) AdjustStock(ctx context.Context, productID int64, availableDelta, consumedDelta int) (available, consumed int, err error) {
	res, err := c.adjustScript.Run(ctx, c.rdb, []string{stockKey(productID)},
		availableDelta, consumedDelta).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("adjust stock script failed: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, 0, fmt.Errorf("adjust stock script returned unexpected result %v", res)
	}
	available = int(vals[0].(int64))
	consumed = int(vals[1].(int64))
	return available, consumed, nil
}

// GetStock retrieves cached stock counts. The second return value is false
// when the projection has no entry for the product yet.
func (c *Client) GetStock(ctx context.Context, productID int64) (total, available, consumed int, ok bool, err error) {
	result, err := c.rdb.HGetAll(ctx, stockKey(productID)).Result()
	if err != nil {
		return 0, 0, 0, false, err
	}
	if len(result) == 0 {
		return 0, 0, 0, false, nil
	}

	total, _ = strconv.Atoi(result["total"])
	available, _ = strconv.Atoi(result["available"])
	consumed, _ = strconv.Atoi(result["consumed"])
	return total, available, consumed, true, nil
}

// ClaimIdempotencyKey atomically claims an idempotency key with a TTL.
// Returns false when the key was already claimed by an earlier request.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("idempotency:%s", key), "1", ttl).Result()
}

// ReleaseIdempotencyKey drops a claimed key so the request may be retried
// (used when the guarded operation failed with a retryable error).
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("idempotency:%s", key)).Err()
}
