package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/doc-catalog/services"
)

// cacheServiceImpl implements CacheService over Redis with an in-memory
// fallback. A Redis outage degrades reads to misses; it never fails a
// read path.
type cacheServiceImpl struct {
	redis *redis.Client
	log   *logrus.Entry

	// In-memory fallback when Redis is unavailable.
	memCache map[string]memEntry
	mu       sync.RWMutex
}

type memEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewCacheService creates a CacheService backed by the given Redis client.
// A nil client means in-memory only.
func NewCacheService(redisClient *redis.Client, log *logrus.Entry) services.CacheService {
	return &cacheServiceImpl{
		redis:    redisClient,
		log:      log,
		memCache: make(map[string]memEntry),
	}
}

func (s *cacheServiceImpl) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.redis != nil {
		data, err := s.redis.Get(ctx, key).Bytes()
		if err == nil {
			return data, true, nil
		}
		if err == redis.Nil {
			return nil, false, nil
		}
		s.log.WithError(err).WithField("key", key).Warn("cache read failed, falling back to memory")
	}
	return s.getFromMem(key)
}

func (s *cacheServiceImpl) getFromMem(key string) ([]byte, bool, error) {
	s.mu.RLock()
	entry, exists := s.memCache[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.memCache, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	return entry.data, true, nil
}

func (s *cacheServiceImpl) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, key, value, ttl).Err(); err == nil {
			return nil
		} else {
			s.log.WithError(err).WithField("key", key).Warn("cache write failed, falling back to memory")
		}
	}

	s.mu.Lock()
	s.memCache[key] = memEntry{data: value, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *cacheServiceImpl) Delete(ctx context.Context, key string) error {
	if s.redis != nil {
		if err := s.redis.Del(ctx, key).Err(); err != nil {
			s.log.WithError(err).WithField("key", key).Warn("cache delete failed")
		}
	}
	s.mu.Lock()
	delete(s.memCache, key)
	s.mu.Unlock()
	return nil
}

func (s *cacheServiceImpl) DeletePrefix(ctx context.Context, prefix string) error {
	if s.redis != nil {
		var cursor uint64
		for {
			keys, newCursor, err := s.redis.Scan(ctx, cursor, prefix+"*", 100).Result()
			if err != nil {
				s.log.WithError(err).WithField("prefix", prefix).Warn("cache scan failed during invalidation")
				break
			}
			if len(keys) > 0 {
				s.redis.Del(ctx, keys...)
			}
			cursor = newCursor
			if cursor == 0 {
				break
			}
		}
	}

	s.mu.Lock()
	for key := range s.memCache {
		if strings.HasPrefix(key, prefix) {
			delete(s.memCache, key)
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *cacheServiceImpl) Health(ctx context.Context) services.CacheHealth {
	if s.redis == nil {
		return services.CacheHealth{OK: false}
	}
	start := time.Now()
	err := s.redis.Ping(ctx).Err()
	latency := time.Since(start)
	return services.CacheHealth{
		OK:        err == nil,
		Latency:   latency,
		LatencyMs: latency.Milliseconds(),
	}
}

// HashQuery generates a short deterministic hash for cache keys.
func HashQuery(query string) string {
	hash := sha256.Sum256([]byte(query))
	return hex.EncodeToString(hash[:16])
}
