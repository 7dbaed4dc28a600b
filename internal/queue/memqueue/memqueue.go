// Package memqueue is an in-process implementation of queue.Queue backed
// by a mutex-guarded map, used by tests that need a Queue without a
// SQLite file on disk.
package memqueue

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/jengu/pricing-core/internal/apperr"
	"github.com/jengu/pricing-core/internal/queue"
)

func decodeMsgpack(payload []byte, out any) error {
	return msgpack.Unmarshal(payload, out)
}

// Queue is a minimal, non-durable stand-in for queue.Store.
type Queue struct {
	mu   sync.Mutex
	jobs map[string]*queue.Job
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{jobs: make(map[string]*queue.Job)}
}

var _ queue.Queue = (*Queue)(nil)
var _ queue.LatestForPropertyLookup = (*Queue)(nil)

func (q *Queue) Enqueue(queueName string, jobName queue.JobName, payload []byte, opts queue.EnqueueOptions) (string, error) {
	if !queue.ValidJobName(queueName, jobName) {
		return "", apperr.Validation("job name %q is not valid for queue %q", jobName, queueName)
	}
	opts = opts.WithDefaults()

	jobID := opts.JobID
	if jobID == "" {
		jobID = queue.IDPrefix(jobName) + uuid.NewString()
	}

	scheduledAt := time.Now()
	state := queue.StateWaiting
	if opts.Delay > 0 {
		scheduledAt = scheduledAt.Add(opts.Delay)
		state = queue.StateDelayed
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[jobID] = &queue.Job{
		JobID:            jobID,
		Queue:            queueName,
		JobName:          jobName,
		Payload:          payload,
		Priority:         opts.Priority,
		MaxAttempts:      opts.MaxAttempts,
		BackoffBaseMs:    opts.BackoffBaseMs,
		ScheduledAt:      scheduledAt,
		State:            state,
		RemoveOnComplete: opts.RemoveOnComplete,
		RemoveOnFail:     opts.RemoveOnFail,
		CreatedAt:        time.Now(),
	}
	return jobID, nil
}

func (q *Queue) Get(jobID string) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, apperr.NotFound("job %q not found", jobID)
	}
	cp := *job
	return &cp, nil
}

func (q *Queue) LatestForProperty(queueName string, jobName queue.JobName, propertyID string) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var candidates []*queue.Job
	for _, j := range q.jobs {
		if j.Queue == queueName && j.JobName == jobName {
			candidates = append(candidates, j)
		}
	}
	sort.Slice(candidates, func(i, k int) bool { return candidates[i].CreatedAt.After(candidates[k].CreatedAt) })

	for _, j := range candidates {
		var payload map[string]interface{}
		if decodeMsgpack(j.Payload, &payload) == nil {
			if pid, _ := payload["property_id"].(string); pid == propertyID {
				cp := *j
				return &cp, nil
			}
		}
	}
	return nil, apperr.NotFound("no %s job found for property %q", jobName, propertyID)
}

func (q *Queue) ScheduleRepeatable(queueName, scheduleName, jobID string, jobName queue.JobName, payload []byte) error {
	q.mu.Lock()
	if _, exists := q.jobs[jobID]; exists {
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	_, err := q.Enqueue(queueName, jobName, payload, queue.EnqueueOptions{JobID: jobID, Priority: queue.PriorityMedium})
	return err
}

func (q *Queue) Dequeue(queueName, consumerID string) (*queue.Job, *queue.Lease, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var best *queue.Job
	for _, j := range q.jobs {
		if j.Queue != queueName {
			continue
		}
		if j.State != queue.StateWaiting && !(j.State == queue.StateDelayed && !j.ScheduledAt.After(now)) {
			continue
		}
		if best == nil || j.Priority < best.Priority || (j.Priority == best.Priority && j.CreatedAt.Before(best.CreatedAt)) {
			best = j
		}
	}
	if best == nil {
		return nil, nil, nil
	}

	token := uuid.NewString()
	expires := now.Add(10 * time.Minute)
	best.State = queue.StateActive
	best.LeaseToken = &token
	best.LeaseExpiresAt = &expires
	best.AttemptsMade++
	best.ProcessedOn = &now

	cp := *best
	return &cp, &queue.Lease{JobID: best.JobID, Token: token}, nil
}

func (q *Queue) Complete(lease *queue.Lease, returnValue []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[lease.JobID]
	if !ok || job.LeaseToken == nil || *job.LeaseToken != lease.Token {
		return apperr.Conflict("lease token mismatch for job %q", lease.JobID)
	}
	job.State = queue.StateCompleted
	job.ReturnValue = returnValue
	job.Progress = 100
	now := time.Now()
	job.FinishedOn = &now
	return nil
}

func (q *Queue) Fail(lease *queue.Lease, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[lease.JobID]
	if !ok || job.LeaseToken == nil || *job.LeaseToken != lease.Token {
		return apperr.Conflict("lease token mismatch for job %q", lease.JobID)
	}
	job.LastError = &errMsg

	if job.AttemptsMade >= job.MaxAttempts {
		job.State = queue.StateFailed
		now := time.Now()
		job.FinishedOn = &now
		return nil
	}

	job.State = queue.StateDelayed
	job.ScheduledAt = time.Now().Add(queue.NextBackoff(job.BackoffBaseMs, job.AttemptsMade))
	job.LeaseToken = nil
	job.LeaseExpiresAt = nil
	return nil
}

func (q *Queue) UpdateProgress(lease *queue.Lease, progress int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[lease.JobID]
	if !ok || job.LeaseToken == nil || *job.LeaseToken != lease.Token {
		return apperr.Conflict("lease token mismatch for job %q", lease.JobID)
	}
	job.Progress = progress
	return nil
}

func (q *Queue) RecoverLeases(leaseTimeout time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := time.Now().Add(-leaseTimeout)
	n := 0
	for _, j := range q.jobs {
		if j.State == queue.StateActive && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(cutoff) {
			j.State = queue.StateWaiting
			j.LeaseToken = nil
			j.LeaseExpiresAt = nil
			n++
		}
	}
	return n, nil
}
