package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "stock:balance:version"

// Cache keeps recently read balances in Redis. Writes never go through it;
// the movement service bumps the version after each commit, which invalidates
// every cached balance at once.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a balance cache. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Get returns a cached balance when present.
func (c *Cache) Get(ctx context.Context, itemID, locationID int64) (Balance, bool) {
	if c == nil || c.client == nil {
		return Balance{}, false
	}
	key, err := c.key(ctx, itemID, locationID)
	if err != nil {
		return Balance{}, false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return Balance{}, false
	}
	var bal Balance
	if err := json.Unmarshal(raw, &bal); err != nil {
		return Balance{}, false
	}
	return bal, true
}

// Set stores a balance under the current cache version.
func (c *Cache) Set(ctx context.Context, bal Balance) {
	if c == nil || c.client == nil {
		return
	}
	key, err := c.key(ctx, bal.ItemID, bal.LocationID)
	if err != nil {
		return
	}
	raw, err := json.Marshal(bal)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key, raw, c.ttl).Err()
}

// Invalidate bumps the version, orphaning all cached balances.
func (c *Cache) Invalidate(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Incr(ctx, cacheVersionKey).Err()
}

func (c *Cache) key(ctx context.Context, itemID, locationID int64) (string, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		ver = 1
		if err := c.client.Set(ctx, cacheVersionKey, ver, 0).Err(); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}
	return fmt.Sprintf("stock:balance:v%d:%d:%d", ver, itemID, locationID), nil
}
