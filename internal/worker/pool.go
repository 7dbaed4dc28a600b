// Package worker dispatches jobs out of a queue.Queue to registered
// Handlers, one goroutine pool per queue, honoring spec.md §4.E's
// concurrency, rate-limit, and graceful-shutdown requirements.
package worker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/jengu/pricing-core/internal/apperr"
	"github.com/jengu/pricing-core/internal/bus"
	"github.com/jengu/pricing-core/internal/metrics"
	"github.com/jengu/pricing-core/internal/queue"
)

// Handler executes one job's business logic. progress lets the handler
// stream updates; the returned value is msgpack-encoded and stored
// as the job's return_value on success.
type Handler func(ctx context.Context, job *queue.Job, progress *queue.ProgressReporter) (any, error)

// QueueConfig is one queue's dispatch settings (spec.md §6.5's
// *_WORKER_CONCURRENCY options).
type QueueConfig struct {
	Name        string
	Concurrency int
	RatePerSec  float64 // 0 = unlimited
}

// Config controls the whole pool's lifecycle knobs.
type Config struct {
	Queues        []QueueConfig
	JobTimeout    time.Duration // default 10m, spec.md §6.5 JOB_TIMEOUT
	ShutdownGrace time.Duration // default 30s, spec.md §6.5 SHUTDOWN_GRACE
	PollInterval  time.Duration // default 500ms, how often an idle worker re-polls
	LeaseTimeout  time.Duration // default 10m, how stale a lease must be to recover
}

func (c Config) withDefaults() Config {
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 10 * time.Minute
	}
	return c
}

// Pool runs a fixed set of worker goroutines per queue, each pulling a
// job via Dequeue, running its Handler under a deadline, and reporting
// the outcome back via Complete/Fail.
type Pool struct {
	q        queue.Queue
	bus      *bus.Bus
	cfg      Config
	handlers map[string]map[queue.JobName]Handler
	log      zerolog.Logger
	metric   *metrics.Registry

	wg   sync.WaitGroup
	stop chan struct{}
}

// New creates a Pool bound to q, publishing progress on b. metric may be
// nil to disable instrumentation.
func New(q queue.Queue, b *bus.Bus, cfg Config, log zerolog.Logger, metric *metrics.Registry) *Pool {
	return &Pool{
		q:        q,
		bus:      b,
		cfg:      cfg.withDefaults(),
		handlers: make(map[string]map[queue.JobName]Handler),
		log:      log.With().Str("component", "worker_pool").Logger(),
		metric:   metric,
		stop:     make(chan struct{}),
	}
}

// Register binds handler to (queueName, jobName). Must be called before Start.
func (p *Pool) Register(queueName string, jobName queue.JobName, handler Handler) {
	if p.handlers[queueName] == nil {
		p.handlers[queueName] = make(map[queue.JobName]Handler)
	}
	p.handlers[queueName][jobName] = handler
}

// Start launches Concurrency goroutines per configured queue, plus one
// lease-recovery sweeper. Non-blocking; call Stop for graceful shutdown.
func (p *Pool) Start() {
	for _, qc := range p.cfg.Queues {
		limiter := newTokenBucket(qc.RatePerSec, max(1, qc.Concurrency))
		for i := 0; i < qc.Concurrency; i++ {
			p.wg.Add(1)
			go p.runWorker(qc.Name, limiter, i)
		}
	}

	p.wg.Add(1)
	go p.runLeaseRecovery()
}

// Stop signals every worker goroutine to finish its current job (if any)
// and exit, waiting up to ShutdownGrace before giving up (spec.md §6.5).
// Leases of jobs still running when the grace period ends are not
// released here; RecoverLeases returns them to waiting after they expire.
func (p *Pool) Stop() {
	close(p.stop)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownGrace):
		p.log.Warn().Dur("grace", p.cfg.ShutdownGrace).Msg("shutdown grace period elapsed, workers may still be running")
	}
}

func (p *Pool) runWorker(queueName string, limiter *tokenBucket, idx int) {
	defer p.wg.Done()
	consumerID := queueName + "-" + time.Now().Format("150405") + "-" + strconv.Itoa(idx)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if !limiter.Allow() {
				continue
			}
			p.dispatchOne(queueName, consumerID)
		}
	}
}

func (p *Pool) dispatchOne(queueName, consumerID string) {
	job, lease, err := p.q.Dequeue(queueName, consumerID)
	if err != nil {
		p.log.Error().Err(err).Str("queue", queueName).Msg("dequeue failed")
		return
	}
	if job == nil {
		return
	}

	handler, ok := p.handlers[queueName][job.JobName]
	if !ok {
		_ = p.q.Fail(lease, "no handler registered for job name "+string(job.JobName))
		return
	}

	log := p.log.With().Str("job_id", job.JobID).Str("queue", queueName).Str("job_name", string(job.JobName)).Logger()
	log.Info().Msg("job dispatched")

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	progress := queue.NewProgressReporter(p.bus, job.JobID, 0)
	result, err := handler(ctx, job, progress)
	if p.metric != nil {
		p.metric.JobDuration.WithLabelValues(string(job.JobName)).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.Warn().Err(err).Msg("job failed")
		progress.Failed(err.Error())
		if failErr := p.q.Fail(lease, err.Error()); failErr != nil {
			log.Error().Err(failErr).Msg("failed to record job failure")
		}
		if p.metric != nil {
			p.metric.JobsFailedTotal.WithLabelValues(string(job.JobName), string(apperrKind(err))).Inc()
		}
		return
	}

	encoded, encErr := encodeResult(result)
	if encErr != nil {
		encoded = nil
		log.Warn().Err(encErr).Msg("failed to encode job result")
	}
	progress.Completed("done")
	if err := p.q.Complete(lease, encoded); err != nil {
		log.Error().Err(err).Msg("failed to record job completion")
	} else {
		log.Info().Msg("job completed")
		if p.metric != nil {
			p.metric.JobsCompletedTotal.WithLabelValues(string(job.JobName)).Inc()
		}
	}
}

func (p *Pool) runLeaseRecovery() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.LeaseTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			n, err := p.q.RecoverLeases(p.cfg.LeaseTimeout)
			if err != nil {
				p.log.Error().Err(err).Msg("lease recovery failed")
				continue
			}
			if n > 0 {
				p.log.Info().Int("recovered", n).Msg("recovered expired leases")
				if p.metric != nil {
					p.metric.LeasesReclaimed.Add(float64(n))
				}
			}
		}
	}
}

func apperrKind(err error) apperr.Kind {
	return apperr.KindOf(err)
}

func encodeResult(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return msgpack.Marshal(v)
}
