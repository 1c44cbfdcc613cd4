package impl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/doc-catalog/services"
)

// queueServiceImpl implements QueueService on Redis. Layout per queue:
//
//	<queue>          list of ready job IDs
//	<queue>:delayed  zset of job IDs scored by promotion time
//	<queue>:leases   zset of job IDs scored by lease deadline
//	<queue>:payloads hash of job ID -> payload JSON
//
// Reserve is a Lua script so the pop and the lease write are atomic:
// a job is visible to at most one worker within the visibility window.
type queueServiceImpl struct {
	redis *redis.Client
	log   *logrus.Entry
}

func NewQueueService(redisClient *redis.Client, log *logrus.Entry) services.QueueService {
	return &queueServiceImpl{redis: redisClient, log: log}
}

var reserveScript = redis.NewScript(`
local id = redis.call('RPOP', KEYS[1])
if not id then
	return false
end
redis.call('ZADD', KEYS[2], ARGV[1], id)
local payload = redis.call('HGET', KEYS[3], id)
return {id, payload}
`)

var nackScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

var promoteScript = redis.NewScript(`
local moved = 0
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('LPUSH', KEYS[2], id)
	moved = moved + 1
end
local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, id in ipairs(expired) do
	redis.call('ZREM', KEYS[3], id)
	redis.call('LPUSH', KEYS[2], id)
	moved = moved + 1
end
return moved
`)

func (s *queueServiceImpl) Enqueue(ctx context.Context, queue string, job services.Job, eta *time.Time) (string, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("%w: failed to encode job: %v", services.ErrInternal, err)
	}

	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, queue+":payloads", job.ID, payload)
	if eta != nil && eta.After(time.Now()) {
		pipe.ZAdd(ctx, queue+":delayed", redis.Z{Score: float64(eta.Unix()), Member: job.ID})
	} else {
		pipe.LPush(ctx, queue, job.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("%w: failed to enqueue job: %v", services.ErrCacheUnavailable, err)
	}
	return job.ID, nil
}

func (s *queueServiceImpl) Reserve(ctx context.Context, queue string, visibility time.Duration) (*services.Job, error) {
	deadline := time.Now().Add(visibility).Unix()
	result, err := reserveScript.Run(ctx, s.redis,
		[]string{queue, queue + ":leases", queue + ":payloads"},
		deadline,
	).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to reserve job: %v", services.ErrCacheUnavailable, err)
	}

	pair, ok := result.([]any)
	if !ok || len(pair) < 2 {
		return nil, fmt.Errorf("%w: unexpected reserve script result", services.ErrInternal)
	}
	jobID, _ := pair[0].(string)

	payload, ok := pair[1].(string)
	if !ok || payload == "" {
		// Payload lost (acked elsewhere or evicted). Drop the lease.
		s.redis.ZRem(ctx, queue+":leases", jobID)
		return nil, nil
	}

	var job services.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		s.log.WithError(err).WithField("job_id", jobID).Error("dropping undecodable job payload")
		s.redis.ZRem(ctx, queue+":leases", jobID)
		s.redis.HDel(ctx, queue+":payloads", jobID)
		return nil, nil
	}
	return &job, nil
}

func (s *queueServiceImpl) Ack(ctx context.Context, queue, jobID string) error {
	pipe := s.redis.TxPipeline()
	pipe.ZRem(ctx, queue+":leases", jobID)
	pipe.HDel(ctx, queue+":payloads", jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: failed to ack job: %v", services.ErrCacheUnavailable, err)
	}
	return nil
}

func (s *queueServiceImpl) Nack(ctx context.Context, queue, jobID, reason string, retryAfter time.Duration) error {
	payload, err := s.redis.HGet(ctx, queue+":payloads", jobID).Result()
	if err == redis.Nil {
		return fmt.Errorf("%w: job %s", services.ErrNotFound, jobID)
	}
	if err != nil {
		return fmt.Errorf("%w: failed to read job payload: %v", services.ErrCacheUnavailable, err)
	}

	var job services.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return fmt.Errorf("%w: failed to decode job payload: %v", services.ErrInternal, err)
	}
	job.Attempts++

	updated, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("%w: failed to encode job payload: %v", services.ErrInternal, err)
	}

	eta := time.Now().Add(retryAfter).Unix()
	err = nackScript.Run(ctx, s.redis,
		[]string{queue + ":leases", queue + ":payloads", queue + ":delayed"},
		jobID, updated, eta,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: failed to nack job: %v", services.ErrCacheUnavailable, err)
	}

	s.log.WithFields(logrus.Fields{
		"job_id":      jobID,
		"document_id": job.DocumentID,
		"attempts":    job.Attempts,
		"retry_after": retryAfter.String(),
		"reason":      reason,
	}).Info("job rescheduled")
	return nil
}

func (s *queueServiceImpl) PromoteDue(ctx context.Context, queue string) (int, error) {
	now := time.Now().Unix()
	moved, err := promoteScript.Run(ctx, s.redis,
		[]string{queue + ":delayed", queue, queue + ":leases"},
		now,
	).Int()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("%w: failed to promote due jobs: %v", services.ErrCacheUnavailable, err)
	}
	return moved, nil
}

func (s *queueServiceImpl) Depth(ctx context.Context, queue string) (int64, error) {
	pipe := s.redis.Pipeline()
	ready := pipe.LLen(ctx, queue)
	delayed := pipe.ZCard(ctx, queue+":delayed")
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: failed to read queue depth: %v", services.ErrCacheUnavailable, err)
	}
	return ready.Val() + delayed.Val(), nil
}
