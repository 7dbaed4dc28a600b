// Package queue implements the durable, prioritized, retryable job queue
// of spec.md §4.D: enqueue/get/schedule_repeatable/dequeue/complete/fail/
// update_progress/recover_leases over a single SQLite table, with an
// in-memory implementation (memqueue) satisfying the same interface for
// tests.
package queue

import "time"

// Priority is an integer where lower values are dequeued first (spec.md
// §3.3). The named levels are conveniences, not an enum — any int works.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 5
	PriorityMedium   Priority = 10
	PriorityLow      Priority = 20
)

// State is a job's position in the spec.md §4.D state machine:
// waiting ↔ delayed (time-based) → active → completed|failed;
// active → waiting only on lease expiry.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

const (
	QueueEnrichment = "enrichment"
	QueueCompetitor = "competitor"
	QueueAnalytics  = "analytics"
)

// JobName is the dispatch key within a queue (spec.md §9: "a finite set
// of job names; payloads are a sum type dispatched by name").
type JobName string

const (
	JobNameEnrichRow        JobName = "enrich_row"
	JobNameCompetitorScrape JobName = "competitor_scrape"
	JobNameAnalyticsSummary JobName = "analytics_summary"
	JobNameIndexCompute     JobName = "index_compute"
)

// idPrefixes maps a job name to its job_id family prefix (spec.md §6.2).
var idPrefixes = map[JobName]string{
	JobNameEnrichRow:        "enrich-",
	JobNameCompetitorScrape: "competitor-",
	JobNameAnalyticsSummary: "analytics-",
	JobNameIndexCompute:     "index-",
}

// IDPrefix returns the job_id family prefix for name.
func IDPrefix(name JobName) string {
	return idPrefixes[name]
}

// validJobNames enforces "unknown job names fail validation at enqueue,
// never at dispatch" (spec.md §9) by restricting which job names a queue
// will accept.
var validJobNames = map[string]map[JobName]bool{
	QueueEnrichment: {JobNameEnrichRow: true},
	QueueCompetitor: {JobNameCompetitorScrape: true},
	QueueAnalytics:  {JobNameAnalyticsSummary: true, JobNameIndexCompute: true},
}

// ValidJobName reports whether name is accepted on queueName.
func ValidJobName(queueName string, name JobName) bool {
	return validJobNames[queueName][name]
}

// RetentionPolicy controls how long a terminal job is kept before sweep
// (spec.md §3.3's removeOnComplete/removeOnFail).
type RetentionPolicy struct {
	AgeSeconds int
	MaxCount   int
}

// Job is the persisted job descriptor (spec.md §3.3). The ephemeral lease
// claim is modeled separately as Lease.
type Job struct {
	JobID         string
	Queue         string
	JobName       JobName
	Payload       []byte // msgpack-encoded
	Priority      Priority
	AttemptsMade  int
	MaxAttempts   int
	BackoffBaseMs int
	ScheduledAt   time.Time
	State         State
	Progress      int
	ReturnValue   []byte
	LastError     *string

	LeaseToken     *string
	LeaseExpiresAt *time.Time

	RemoveOnComplete *RetentionPolicy
	RemoveOnFail     *RetentionPolicy

	ProcessedOn *time.Time
	FinishedOn  *time.Time
	CreatedAt   time.Time
}

// Lease is the exclusive claim a worker holds over an active job
// (glossary: "Lease").
type Lease struct {
	JobID string
	Token string
}

// EnqueueOptions configures a single Enqueue call (spec.md §4.D).
type EnqueueOptions struct {
	Priority         Priority
	Delay            time.Duration
	MaxAttempts      int // default 3
	BackoffBaseMs    int // default 1000
	JobID            string
	RemoveOnComplete *RetentionPolicy
	RemoveOnFail     *RetentionPolicy
}

func (o EnqueueOptions) withDefaults() EnqueueOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBaseMs <= 0 {
		o.BackoffBaseMs = 1000
	}
	return o
}

// WithDefaults applies Enqueue's default max-attempts/backoff when unset,
// exported so callers outside the package (e.g. the SQLite store) can
// normalize options before persisting a job.
func (o EnqueueOptions) WithDefaults() EnqueueOptions {
	return o.withDefaults()
}

// NextBackoff implements spec.md §4.D / §8 invariant 6:
// base_ms × 2^(attempts_made-1).
func NextBackoff(baseMs, attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	return time.Duration(baseMs) * time.Millisecond * time.Duration(1<<(attemptsMade-1))
}

// Queue is the interface every implementation (SQLite-backed Store,
// in-memory memqueue.Queue) satisfies, matching spec.md §4.D's public
// operations verbatim.
type Queue interface {
	Enqueue(queueName string, jobName JobName, payload []byte, opts EnqueueOptions) (string, error)
	Get(jobID string) (*Job, error)
	ScheduleRepeatable(queueName string, scheduleName string, jobID string, jobName JobName, payload []byte) error
	Dequeue(queueName, consumerID string) (*Job, *Lease, error)
	Complete(lease *Lease, returnValue []byte) error
	Fail(lease *Lease, errMsg string) error
	UpdateProgress(lease *Lease, progress int) error
	RecoverLeases(leaseTimeout time.Duration) (int, error)
}

// LatestForPropertyLookup resolves the enrichment status endpoint's
// property_id form (spec.md §6.1): the most recent enrich_row job whose
// payload references propertyID. Implemented per-backend since it needs
// a payload scan.
type LatestForPropertyLookup interface {
	LatestForProperty(queueName string, jobName JobName, propertyID string) (*Job, error)
}
