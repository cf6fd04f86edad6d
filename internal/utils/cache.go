package utils

import (
	"context"       // Context for Redis operations
	"encoding/json" // JSON encoding/decoding
	"strconv"       // Key formatting
	"time"          // Time durations

	"github.com/redis/go-redis/v9" // Redis client
)

// Cache is a JSON read-through cache. A nil *Cache is valid and caches nothing.
type Cache struct {
	rdb redis.Cmdable // Redis client
	ttl time.Duration // Default entry lifetime
}

// NewCache creates a cache with a default TTL
func NewCache(rdb redis.Cmdable, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// WalletKey is the cache key of an owner's wallet snapshot
func WalletKey(ownerID uint) string {
	return "wallet:owner:" + strconv.FormatUint(uint64(ownerID), 10)
}

// LedgerGenKey holds the counter that versions an owner's cached ledger pages
func LedgerGenKey(ownerID uint) string {
	return "ledger:owner:" + strconv.FormatUint(uint64(ownerID), 10) + ":gen"
}

// LedgerPageKey is the cache key of one page of an owner's ledger history at a generation
func LedgerPageKey(ownerID uint, gen int64, page, size int) string {
	return "ledger:owner:" + strconv.FormatUint(uint64(ownerID), 10) + ":v" + strconv.FormatInt(gen, 10) +
		":page:" + strconv.Itoa(page) + ":size:" + strconv.Itoa(size)
}

// LedgerGeneration returns the owner's current ledger page generation.
// Read it before querying so a concurrent write orphans the page instead of hiding behind it.
func (c *Cache) LedgerGeneration(ctx context.Context, ownerID uint) (int64, error) {
	if c == nil {
		return 0, nil
	}
	gen, err := c.rdb.Get(ctx, LedgerGenKey(ownerID)).Int64()
	if err == redis.Nil {
		return 0, nil // Never invalidated
	}
	return gen, err
}

// Get retrieves a value and unmarshals it into dest; found is false on a miss
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if c == nil {
		return false, nil // Caching disabled
	}
	val, err := c.rdb.Get(ctx, key).Bytes() // Get value from Redis
	if err == redis.Nil {
		return false, nil // Key does not exist
	} else if err != nil {
		return false, err // Other Redis error
	}
	return true, json.Unmarshal(val, dest) // Unmarshal JSON into dest
}

// Set stores value with the default TTL
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	if c == nil {
		return nil
	}
	b, err := json.Marshal(value) // Marshal value to JSON
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, c.ttl).Err() // Set value in Redis with TTL
}

// Invalidate drops an owner's wallet snapshot and bumps the ledger generation,
// which retires every cached ledger page whatever its page size
func (c *Cache) Invalidate(ctx context.Context, ownerID uint) error {
	if c == nil {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, WalletKey(ownerID)) // Delete snapshot from Redis
		pipe.Incr(ctx, LedgerGenKey(ownerID))
		return nil
	})
	return err
}
