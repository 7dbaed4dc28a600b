package worker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengu/pricing-core/internal/bus"
	"github.com/jengu/pricing-core/internal/queue"
	"github.com/jengu/pricing-core/internal/queue/memqueue"
)

func TestTokenBucketUnlimitedWhenRateZero(t *testing.T) {
	var tb *tokenBucket
	for i := 0; i < 100; i++ {
		assert.True(t, tb.Allow())
	}
}

func TestTokenBucketThrottles(t *testing.T) {
	tb := newTokenBucket(1, 1)
	require.True(t, tb.Allow())
	assert.False(t, tb.Allow())
}

func TestPoolDispatchesRegisteredHandler(t *testing.T) {
	q := memqueue.New()
	b := bus.New()
	pool := New(q, b, Config{
		Queues:       []QueueConfig{{Name: queue.QueueEnrichment, Concurrency: 1}},
		PollInterval: 10 * time.Millisecond,
		LeaseTimeout: time.Minute,
	}, zerolog.Nop(), nil)

	executed := make(chan string, 1)
	pool.Register(queue.QueueEnrichment, queue.JobNameEnrichRow, func(ctx context.Context, job *queue.Job, progress *queue.ProgressReporter) (any, error) {
		executed <- job.JobID
		return map[string]string{"ok": "true"}, nil
	})

	jobID, err := q.Enqueue(queue.QueueEnrichment, queue.JobNameEnrichRow, nil, queue.EnqueueOptions{})
	require.NoError(t, err)

	pool.Start()
	defer pool.Stop()

	select {
	case got := <-executed:
		assert.Equal(t, jobID, got)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not dispatched")
	}

	require.Eventually(t, func() bool {
		job, err := q.Get(jobID)
		return err == nil && job.State == queue.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)
}
