// Package scheduler enqueues the three standing, repeatable jobs of
// spec.md §4.D/§9 (competitor-daily, neighborhood-index-daily,
// graph-build) on a cron schedule, each idempotent per calendar bucket so
// a restart or an overlapping tick never double-enqueues.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/jengu/pricing-core/internal/queue"
)

const (
	ScheduleCompetitorDaily   = "competitor-daily"
	ScheduleNeighborhoodIndex = "neighborhood-index-daily"
	ScheduleGraphBuild        = "graph-build"
)

// Scheduler wraps a robfig/cron runner bound to a queue.Queue.
type Scheduler struct {
	cron *cron.Cron
	q    queue.Queue
	log  zerolog.Logger
}

// New creates a Scheduler that will enqueue jobs onto q when Start runs.
func New(q queue.Queue, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		q:    q,
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the three standing schedules and starts the cron
// runner in the background. Call Stop to drain.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("0 0 2 * * *", func() {
		s.enqueueRepeatable(ScheduleCompetitorDaily, queue.QueueCompetitor, queue.JobNameCompetitorScrape)
	}); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 0 3 * * *", func() {
		s.enqueueRepeatable(ScheduleNeighborhoodIndex, queue.QueueAnalytics, queue.JobNameIndexCompute)
	}); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 0 4 * * *", func() {
		s.enqueueRepeatable(ScheduleGraphBuild, queue.QueueCompetitor, queue.JobNameCompetitorScrape)
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop waits for any in-flight schedule callback to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// enqueueRepeatable builds the idempotent job_id for this schedule's
// current day bucket (spec.md §6.2: "<schedule-name>:<bucket-timestamp>")
// and hands it to ScheduleRepeatable, which is a no-op if that bucket was
// already enqueued.
func (s *Scheduler) enqueueRepeatable(scheduleName, queueName string, jobName queue.JobName) {
	bucket := time.Now().UTC().Format("2006-01-02")
	jobID := scheduleName + ":" + bucket

	if err := s.q.ScheduleRepeatable(queueName, scheduleName, jobID, jobName, nil); err != nil {
		s.log.Error().Err(err).Str("schedule", scheduleName).Msg("failed to enqueue repeatable job")
		return
	}
	s.log.Info().Str("schedule", scheduleName).Str("job_id", jobID).Msg("repeatable job enqueued")
}
