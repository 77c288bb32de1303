package session

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revoker tracks signed-out session ids until they expire.
type Revoker interface {
	Revoke(ctx context.Context, id string, ttl time.Duration) error
	IsRevoked(ctx context.Context, id string) (bool, error)
}

// MemoryRevoker keeps revoked ids in-memory (single instance only).
type MemoryRevoker struct {
	mu  sync.Mutex
	ids map[string]time.Time
	now func() time.Time
}

func NewMemoryRevoker() *MemoryRevoker {
	return &MemoryRevoker{
		ids: make(map[string]time.Time),
		now: time.Now,
	}
}

func (r *MemoryRevoker) Revoke(_ context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	r.ids[id] = r.now().Add(ttl)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRevoker) IsRevoked(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.ids[id]
	if !ok {
		return false, nil
	}
	if r.now().After(expiry) {
		delete(r.ids, id)
		return false, nil
	}
	return true, nil
}

// RedisRevoker stores revoked ids in Redis with TTL so every replica sees sign-outs.
type RedisRevoker struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRevoker(client redis.UniversalClient, prefix string) *RedisRevoker {
	if prefix == "" {
		prefix = "zerogchat:session:revoked"
	}
	return &RedisRevoker{client: client, prefix: prefix}
}

func (r *RedisRevoker) Revoke(ctx context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.client.Set(ctx, r.key(id), "1", ttl).Err()
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	n, err := r.client.Exists(ctx, r.key(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisRevoker) key(id string) string {
	return r.prefix + ":" + id
}
