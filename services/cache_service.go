package services

import (
	"context"
	"time"
)

// Cache keyspace conventions.
const (
	SearchCachePrefix = "search:"
	FacetCacheKey     = "facets:enhanced:all"
	SessionKeyPrefix  = "session:"
	ProcessQueue      = "job:documents:process"
)

type CacheHealth struct {
	OK        bool          `json:"ok"`
	LatencyMs int64         `json:"latency_ms"`
	Latency   time.Duration `json:"-"`
}

// CacheService is short-lived keyed storage. A failed backend degrades reads
// to misses; it never fails a read path.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Health(ctx context.Context) CacheHealth
}

// Job is a unit of pipeline work. Attempts is carried on the payload and
// capped by the pipeline's retry policy.
type Job struct {
	ID         string    `json:"id"`
	DocumentID int64     `json:"document_id"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// QueueService is a Redis-backed task queue with visibility-timeout leases.
// A job is durable once Enqueue returns; Reserve delivers a job to at most
// one worker within the visibility window.
type QueueService interface {
	Enqueue(ctx context.Context, queue string, job Job, eta *time.Time) (string, error)

	// Reserve pops one job and leases it for visibility. Returns nil when
	// the queue is empty.
	Reserve(ctx context.Context, queue string, visibility time.Duration) (*Job, error)

	Ack(ctx context.Context, queue, jobID string) error

	// Nack releases the lease and reschedules the job after retryAfter with
	// its attempt counter incremented.
	Nack(ctx context.Context, queue, jobID, reason string, retryAfter time.Duration) error

	// PromoteDue moves due delayed jobs and expired leases back onto the
	// ready list. Called by the scheduler.
	PromoteDue(ctx context.Context, queue string) (int, error)

	Depth(ctx context.Context, queue string) (int64, error)
}

// RetryBackoff computes the queue backoff min(2^attempts * base, cap).
func RetryBackoff(attempts int, base, cap time.Duration) time.Duration {
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
