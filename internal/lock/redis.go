// Package lock provides a coarse advisory lock for singleton operations such
// as a manually triggered batch run. It is never used to serialize wallet
// writes; those rely on row locks in the relational store.
package lock

import (
	"context" // Context for Redis operations
	"sync"    // Guards the token map
	"time"    // Lock TTL

	"github.com/google/uuid"       // Lock tokens
	"github.com/redis/go-redis/v9" // Redis client
)

// Locker is the advisory lock contract
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// GenerateKey guards the manual batch run for one day and locality
func GenerateKey(date, locality string) string {
	return "lock:generate:" + date + ":" + locality
}

// releaseScript deletes the key only if this holder still owns it
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a compare-and-delete release
type RedisLocker struct {
	rdb    *redis.Client     // Redis client
	mu     sync.Mutex        // Guards tokens
	tokens map[string]string // Key -> token held by this process
}

// NewRedisLocker creates a locker
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb, tokens: make(map[string]string)}
}

// Acquire takes key for ttl; false means another holder has it
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return false, err
	}
	l.mu.Lock()
	l.tokens[key] = token
	l.mu.Unlock()
	return true, nil
}

// Release frees key if this process still holds it; an expired lock is left alone
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
}
