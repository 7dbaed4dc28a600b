package scheduler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengu/pricing-core/internal/queue"
	"github.com/jengu/pricing-core/internal/queue/memqueue"
)

func TestEnqueueRepeatableIsIdempotentWithinBucket(t *testing.T) {
	q := memqueue.New()
	s := New(q, zerolog.Nop())

	s.enqueueRepeatable(ScheduleCompetitorDaily, queue.QueueCompetitor, queue.JobNameCompetitorScrape)
	s.enqueueRepeatable(ScheduleCompetitorDaily, queue.QueueCompetitor, queue.JobNameCompetitorScrape)

	jobID := ScheduleCompetitorDaily + ":" + time.Now().UTC().Format("2006-01-02")
	got, err := q.Get(jobID)
	require.NoError(t, err)
	assert.Equal(t, queue.JobNameCompetitorScrape, got.JobName)
}
