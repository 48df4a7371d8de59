package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revoker remembers logged-out sessions until they would have expired.
type Revoker interface {
	Revoke(ctx context.Context, sessionID string, until time.Time) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// MemoryRevoker keeps revoked session ids in process memory.
type MemoryRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevoker() *MemoryRevoker {
	return &MemoryRevoker{revoked: make(map[string]time.Time), now: time.Now}
}

func (r *MemoryRevoker) Revoke(ctx context.Context, sessionID string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune()
	r.revoked[sessionID] = until
	return nil
}

func (r *MemoryRevoker) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	until, ok := r.revoked[sessionID]
	if !ok {
		return false, nil
	}
	if r.now().After(until) {
		delete(r.revoked, sessionID)
		return false, nil
	}
	return true, nil
}

// prune drops entries whose tokens have expired anyway.
func (r *MemoryRevoker) prune() {
	now := r.now()
	for id, until := range r.revoked {
		if now.After(until) {
			delete(r.revoked, id)
		}
	}
}

// RedisRevoker stores revoked session ids as expiring Redis keys so that
// logouts are shared between server instances.
type RedisRevoker struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisRevoker(rdb redis.UniversalClient, prefix string) *RedisRevoker {
	if prefix == "" {
		prefix = "memo:revoked:"
	}
	return &RedisRevoker{rdb: rdb, prefix: prefix}
}

func (r *RedisRevoker) Revoke(ctx context.Context, sessionID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.rdb.Set(ctx, r.prefix+sessionID, 1, ttl).Err()
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.prefix+sessionID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	return n > 0, nil
}
