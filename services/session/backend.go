package session

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend is raw keyed byte storage with TTLs. Get reports the remaining
// TTL so rewrites can preserve it.
type Backend interface {
	Get(ctx context.Context, key string) (data []byte, remaining time.Duration, err error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

type redisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) Backend {
	return &redisBackend{client: client}
}

func (b *redisBackend) Get(ctx context.Context, key string) ([]byte, time.Duration, error) {
	pipe := b.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		if err == redis.Nil {
			return nil, 0, ErrSessionMissing
		}
		return nil, 0, err
	}
	data, err := getCmd.Bytes()
	if err != nil {
		return nil, 0, err
	}
	return data, ttlCmd.Val(), nil
}

func (b *redisBackend) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, data, ttl).Err()
}

func (b *redisBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

func (b *redisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

type memoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func NewMemoryBackend() Backend {
	return &memoryBackend{entries: make(map[string]memoryEntry)}
}

func (b *memoryBackend) Get(ctx context.Context, key string) ([]byte, time.Duration, error) {
	b.mu.RLock()
	entry, ok := b.entries[key]
	b.mu.RUnlock()

	if !ok {
		return nil, 0, ErrSessionMissing
	}
	remaining := time.Until(entry.expiresAt)
	if remaining <= 0 {
		b.mu.Lock()
		delete(b.entries, key)
		b.mu.Unlock()
		return nil, 0, ErrSessionMissing
	}
	return entry.data, remaining, nil
}

func (b *memoryBackend) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	b.mu.Lock()
	b.entries[key] = memoryEntry{data: data, expiresAt: time.Now().Add(ttl)}
	b.mu.Unlock()
	return nil
}

func (b *memoryBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
	return nil
}

func (b *memoryBackend) Ping(ctx context.Context) error {
	return nil
}
