package memqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengu/pricing-core/internal/queue"
)

func TestEnqueueRejectsUnknownJobName(t *testing.T) {
	q := New()
	_, err := q.Enqueue(queue.QueueEnrichment, queue.JobNameCompetitorScrape, nil, queue.EnqueueOptions{})
	require.Error(t, err)
}

func TestDequeuePriorityOrder(t *testing.T) {
	q := New()
	_, err := q.Enqueue(queue.QueueEnrichment, queue.JobNameEnrichRow, []byte("low"), queue.EnqueueOptions{Priority: queue.PriorityLow})
	require.NoError(t, err)
	_, err = q.Enqueue(queue.QueueEnrichment, queue.JobNameEnrichRow, []byte("critical"), queue.EnqueueOptions{Priority: queue.PriorityCritical})
	require.NoError(t, err)

	job, lease, err := q.Dequeue(queue.QueueEnrichment, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, []byte("critical"), job.Payload)
	assert.NotEmpty(t, lease.Token)
}

func TestFailRetriesThenFails(t *testing.T) {
	q := New()
	_, err := q.Enqueue(queue.QueueEnrichment, queue.JobNameEnrichRow, nil, queue.EnqueueOptions{MaxAttempts: 2, BackoffBaseMs: 1000})
	require.NoError(t, err)

	_, lease, err := q.Dequeue(queue.QueueEnrichment, "worker-1")
	require.NoError(t, err)
	require.NoError(t, q.Fail(lease, "boom"))

	job, err := q.Get(lease.JobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateDelayed, job.State)

	q.jobs[lease.JobID].ScheduledAt = time.Now().Add(-time.Second) // force due
	_, lease2, err := q.Dequeue(queue.QueueEnrichment, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, lease2)
	require.NoError(t, q.Fail(lease2, "boom again"))

	job, err = q.Get(lease.JobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateFailed, job.State)
}

func TestRecoverLeases(t *testing.T) {
	q := New()
	_, err := q.Enqueue(queue.QueueEnrichment, queue.JobNameEnrichRow, nil, queue.EnqueueOptions{})
	require.NoError(t, err)
	_, lease, err := q.Dequeue(queue.QueueEnrichment, "worker-1")
	require.NoError(t, err)

	job := q.jobs[lease.JobID]
	expired := time.Now().Add(-time.Hour)
	job.LeaseExpiresAt = &expired

	n, err := q.RecoverLeases(10 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err = q.Get(lease.JobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateWaiting, job.State)
}
