package impl

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doc-catalog/services"
)

func newTestQueue(t *testing.T) services.QueueService {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := logrus.New()
	log.SetOutput(testWriter{t})
	return NewQueueService(client, logrus.NewEntry(log))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestQueueEnqueueReserveAck(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	jobID, err := queue.Enqueue(ctx, "test:q", services.Job{DocumentID: 42}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	depth, err := queue.Depth(ctx, "test:q")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	job, err := queue.Reserve(ctx, "test:q", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, int64(42), job.DocumentID)
	assert.Equal(t, 0, job.Attempts)

	// Reserved jobs are invisible to other workers.
	second, err := queue.Reserve(ctx, "test:q", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, queue.Ack(ctx, "test:q", jobID))

	depth, err = queue.Depth(ctx, "test:q")
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestQueueReserveEmpty(t *testing.T) {
	queue := newTestQueue(t)

	job, err := queue.Reserve(context.Background(), "test:q", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueueFIFOAcrossJobs(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	first, err := queue.Enqueue(ctx, "test:q", services.Job{DocumentID: 1}, nil)
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, "test:q", services.Job{DocumentID: 2}, nil)
	require.NoError(t, err)

	job, err := queue.Reserve(ctx, "test:q", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, first, job.ID)
}

func TestQueueNackIncrementsAttemptsAndReschedules(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	jobID, err := queue.Enqueue(ctx, "test:q", services.Job{DocumentID: 7}, nil)
	require.NoError(t, err)

	job, err := queue.Reserve(ctx, "test:q", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)

	// Zero retry delay: the job is due as soon as it lands in the delayed
	// set, which keeps the promotion path deterministic under test.
	require.NoError(t, queue.Nack(ctx, "test:q", jobID, "transient failure", 0))

	// Delayed jobs count toward depth but are not yet reservable.
	depth, err := queue.Depth(ctx, "test:q")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	notReady, err := queue.Reserve(ctx, "test:q", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, notReady)

	moved, err := queue.PromoteDue(ctx, "test:q")
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	retried, err := queue.Reserve(ctx, "test:q", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, jobID, retried.ID)
	assert.Equal(t, 1, retried.Attempts)
}

func TestQueueFutureEtaNotReservable(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	eta := time.Now().Add(time.Hour)
	_, err := queue.Enqueue(ctx, "test:q", services.Job{DocumentID: 9}, &eta)
	require.NoError(t, err)

	job, err := queue.Reserve(ctx, "test:q", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)

	depth, err := queue.Depth(ctx, "test:q")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	moved, err := queue.PromoteDue(ctx, "test:q")
	require.NoError(t, err)
	assert.Equal(t, 0, moved)
}

func TestQueueExpiredLeaseRedelivered(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	jobID, err := queue.Enqueue(ctx, "test:q", services.Job{DocumentID: 5}, nil)
	require.NoError(t, err)

	// Zero visibility expires the lease immediately, standing in for a
	// crashed worker.
	_, err = queue.Reserve(ctx, "test:q", 0)
	require.NoError(t, err)

	moved, err := queue.PromoteDue(ctx, "test:q")
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	job, err := queue.Reserve(ctx, "test:q", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobID, job.ID)
}

func TestQueueNackUnknownJob(t *testing.T) {
	queue := newTestQueue(t)

	err := queue.Nack(context.Background(), "test:q", "no-such-job", "reason", time.Second)
	assert.ErrorIs(t, err, services.ErrNotFound)
}
