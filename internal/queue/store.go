package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/jengu/pricing-core/internal/apperr"
	"github.com/jengu/pricing-core/internal/database"
)

// Store is the SQLite-backed Queue implementation (spec.md §4.D). It
// shares the application's single-connection *sql.DB so the atomic
// dequeue-and-lease transaction below is trivially serialized against
// every other writer (invariant 2: "at most one worker holds a given job
// in active at a time").
type Store struct {
	db *database.DB
}

// NewStore wraps db as a Queue.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

var _ Queue = (*Store)(nil)
var _ LatestForPropertyLookup = (*Store)(nil)

// Enqueue validates jobName against queueName's allowlist and persists a
// new waiting (or delayed) job (spec.md §4.D, §9 redesign note).
func (s *Store) Enqueue(queueName string, jobName JobName, payload []byte, opts EnqueueOptions) (string, error) {
	if !ValidJobName(queueName, jobName) {
		return "", apperr.Validation("job name %q is not valid for queue %q", jobName, queueName)
	}
	opts = opts.WithDefaults()

	jobID := opts.JobID
	if jobID == "" {
		jobID = IDPrefix(jobName) + uuid.NewString()
	}

	scheduledAt := time.Now()
	state := StateWaiting
	if opts.Delay > 0 {
		scheduledAt = scheduledAt.Add(opts.Delay)
		state = StateDelayed
	}

	removeOnComplete, err := json.Marshal(opts.RemoveOnComplete)
	if err != nil {
		return "", apperr.Internal("marshal remove_on_complete: %v", err)
	}
	removeOnFail, err := json.Marshal(opts.RemoveOnFail)
	if err != nil {
		return "", apperr.Internal("marshal remove_on_fail: %v", err)
	}

	_, err = s.db.Conn().Exec(`
		INSERT INTO jobs (
			job_id, queue_name, job_name, payload, priority, attempts_made,
			max_attempts, backoff_base_ms, scheduled_at, state, progress,
			remove_on_complete, remove_on_fail, created_at
		) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, 0, ?, ?, ?)`,
		jobID, queueName, string(jobName), payload, int(opts.Priority),
		opts.MaxAttempts, opts.BackoffBaseMs, scheduledAt.UTC(), string(state),
		string(removeOnComplete), string(removeOnFail), time.Now().UTC(),
	)
	if err != nil {
		return "", apperr.Internal("enqueue job: %v", err)
	}
	return jobID, nil
}

// Get returns the persisted job by id, or apperr.NotFound.
func (s *Store) Get(jobID string) (*Job, error) {
	row := s.db.Conn().QueryRow(`
		SELECT job_id, queue_name, job_name, payload, priority, attempts_made,
			max_attempts, backoff_base_ms, scheduled_at, state, progress,
			return_value, last_error, lease_token, lease_expires_at,
			remove_on_complete, remove_on_fail, processed_on, finished_on, created_at
		FROM jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("job %q not found", jobID)
	}
	if err != nil {
		return nil, apperr.Internal("get job: %v", err)
	}
	return job, nil
}

// LatestForProperty returns the most recent job of jobName on queueName
// whose msgpack payload references propertyID, for the enrichment status
// endpoint's property_id lookup form (spec.md §6.1).
func (s *Store) LatestForProperty(queueName string, jobName JobName, propertyID string) (*Job, error) {
	rows, err := s.db.Conn().Query(`
		SELECT job_id, queue_name, job_name, payload, priority, attempts_made,
			max_attempts, backoff_base_ms, scheduled_at, state, progress,
			return_value, last_error, lease_token, lease_expires_at,
			remove_on_complete, remove_on_fail, processed_on, finished_on, created_at
		FROM jobs WHERE queue_name = ? AND job_name = ? ORDER BY created_at DESC`,
		queueName, string(jobName))
	if err != nil {
		return nil, apperr.Internal("query jobs for property: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apperr.Internal("scan job: %v", err)
		}
		var payload map[string]interface{}
		if err := decodePayload(job.Payload, &payload); err != nil {
			continue
		}
		if pid, _ := payload["property_id"].(string); pid == propertyID {
			return job, nil
		}
	}
	return nil, apperr.NotFound("no %s job found for property %q", jobName, propertyID)
}

// ScheduleRepeatable records a repeatable-job binding for scheduleName
// and enqueues the job under jobID: the cron scheduler calls this each
// tick, and if a job with jobID already exists the call does nothing
// (idempotent job_id per bucket timestamp).
func (s *Store) ScheduleRepeatable(queueName, scheduleName, jobID string, jobName JobName, payload []byte) error {
	if !ValidJobName(queueName, jobName) {
		return apperr.Validation("job name %q is not valid for queue %q", jobName, queueName)
	}

	var exists int
	err := s.db.Conn().QueryRow(`SELECT COUNT(*) FROM jobs WHERE job_id = ?`, jobID).Scan(&exists)
	if err != nil {
		return apperr.Internal("check existing repeatable job: %v", err)
	}
	if exists > 0 {
		return nil
	}

	_, err = s.db.Conn().Exec(`
		INSERT INTO repeatable_jobs (queue_name, schedule_name, job_id, created_at)
		VALUES (?, ?, ?, ?)`, queueName, scheduleName, jobID, time.Now().UTC())
	if err != nil {
		return apperr.Internal("record repeatable binding: %v", err)
	}

	_, err = s.Enqueue(queueName, jobName, payload, EnqueueOptions{JobID: jobID, Priority: PriorityMedium})
	if err != nil {
		return err
	}
	return nil
}

// Dequeue atomically claims the highest-priority, earliest-eligible
// waiting (or due delayed) job on queueName and transitions it to active
// under a fresh lease (spec.md §4.D). The single-connection pool behind
// db.Conn() serializes this transaction against every concurrent caller,
// so the SELECT-then-UPDATE below cannot race.
func (s *Store) Dequeue(queueName, consumerID string) (*Job, *Lease, error) {
	now := time.Now().UTC()
	var jobID, token string

	err := s.db.WithTx(context.Background(), func(tx *sql.Tx) error {
		row := tx.QueryRow(`
			SELECT job_id FROM jobs
			WHERE queue_name = ?
				AND (state = 'waiting' OR (state = 'delayed' AND scheduled_at <= ?))
			ORDER BY priority ASC, created_at ASC
			LIMIT 1`, queueName, now)
		if err := row.Scan(&jobID); err != nil {
			return err
		}

		token = uuid.NewString()
		leaseExpires := now.Add(10 * time.Minute)
		res, err := tx.Exec(`
			UPDATE jobs SET state = 'active', lease_token = ?, lease_expires_at = ?,
				processed_on = ?, attempts_made = attempts_made + 1
			WHERE job_id = ? AND state IN ('waiting', 'delayed')`,
			token, leaseExpires, now, jobID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, apperr.Internal("dequeue: %v", err)
	}

	job, getErr := s.Get(jobID)
	if getErr != nil {
		return nil, nil, getErr
	}
	return job, &Lease{JobID: jobID, Token: token}, nil
}

// Complete marks lease's job completed and stores returnValue. The job's
// remove_on_complete setting is stored with it but not applied here:
// completed jobs are never removed.
func (s *Store) Complete(lease *Lease, returnValue []byte) error {
	res, err := s.db.Conn().Exec(`
		UPDATE jobs SET state = 'completed', return_value = ?, finished_on = ?, progress = 100
		WHERE job_id = ? AND lease_token = ?`,
		returnValue, time.Now().UTC(), lease.JobID, lease.Token)
	if err != nil {
		return apperr.Internal("complete job: %v", err)
	}
	return requireAffected(res, lease.JobID)
}

// Fail records a failed attempt. If attempts_made has reached
// max_attempts the job moves to the terminal failed state (spec.md §8
// invariant: backoff retried up to max_attempts, then failed); otherwise
// it goes back to delayed with NextBackoff's scheduled_at.
func (s *Store) Fail(lease *Lease, errMsg string) error {
	job, err := s.Get(lease.JobID)
	if err != nil {
		return err
	}
	if job.LeaseToken == nil || *job.LeaseToken != lease.Token {
		return apperr.Conflict("lease token mismatch for job %q", lease.JobID)
	}

	if job.AttemptsMade >= job.MaxAttempts {
		res, err := s.db.Conn().Exec(`
			UPDATE jobs SET state = 'failed', last_error = ?, finished_on = ?
			WHERE job_id = ? AND lease_token = ?`,
			errMsg, time.Now().UTC(), lease.JobID, lease.Token)
		if err != nil {
			return apperr.Internal("fail job: %v", err)
		}
		return requireAffected(res, lease.JobID)
	}

	nextAt := time.Now().UTC().Add(NextBackoff(job.BackoffBaseMs, job.AttemptsMade))
	res, err := s.db.Conn().Exec(`
		UPDATE jobs SET state = 'delayed', last_error = ?, scheduled_at = ?,
			lease_token = NULL, lease_expires_at = NULL
		WHERE job_id = ? AND lease_token = ?`,
		errMsg, nextAt, lease.JobID, lease.Token)
	if err != nil {
		return apperr.Internal("reschedule job: %v", err)
	}
	return requireAffected(res, lease.JobID)
}

// UpdateProgress records lease's job's percent-complete (spec.md §4.D).
func (s *Store) UpdateProgress(lease *Lease, progress int) error {
	res, err := s.db.Conn().Exec(`
		UPDATE jobs SET progress = ? WHERE job_id = ? AND lease_token = ?`,
		progress, lease.JobID, lease.Token)
	if err != nil {
		return apperr.Internal("update progress: %v", err)
	}
	return requireAffected(res, lease.JobID)
}

// RecoverLeases returns active jobs whose lease has expired back to
// waiting, so a crashed worker's job is retried by someone else (spec.md
// §8 invariant: "a crashed worker's lease eventually expires and the job
// becomes eligible for redelivery").
func (s *Store) RecoverLeases(leaseTimeout time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-leaseTimeout)
	res, err := s.db.Conn().Exec(`
		UPDATE jobs SET state = 'waiting', lease_token = NULL, lease_expires_at = NULL
		WHERE state = 'active' AND lease_expires_at < ?`, cutoff)
	if err != nil {
		return 0, apperr.Internal("recover leases: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Internal("recover leases rows affected: %v", err)
	}
	return int(n), nil
}

func requireAffected(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal("rows affected: %v", err)
	}
	if n == 0 {
		return apperr.Conflict("job %q lease no longer held", jobID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                                Job
		jobName                          string
		state                            string
		priority                         int
		returnValue                      []byte
		lastError                        sql.NullString
		leaseToken                       sql.NullString
		leaseExpiresAt                   sql.NullTime
		removeOnComplete, removeOnFail   sql.NullString
		processedOn, finishedOn          sql.NullTime
	)
	if err := row.Scan(
		&j.JobID, &j.Queue, &jobName, &j.Payload, &priority, &j.AttemptsMade,
		&j.MaxAttempts, &j.BackoffBaseMs, &j.ScheduledAt, &state, &j.Progress,
		&returnValue, &lastError, &leaseToken, &leaseExpiresAt,
		&removeOnComplete, &removeOnFail, &processedOn, &finishedOn, &j.CreatedAt,
	); err != nil {
		return nil, err
	}

	j.JobName = JobName(jobName)
	j.State = State(state)
	j.Priority = Priority(priority)
	j.ReturnValue = returnValue
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	if leaseToken.Valid {
		j.LeaseToken = &leaseToken.String
	}
	if leaseExpiresAt.Valid {
		j.LeaseExpiresAt = &leaseExpiresAt.Time
	}
	if processedOn.Valid {
		j.ProcessedOn = &processedOn.Time
	}
	if finishedOn.Valid {
		j.FinishedOn = &finishedOn.Time
	}
	if removeOnComplete.Valid && removeOnComplete.String != "" && removeOnComplete.String != "null" {
		var rp RetentionPolicy
		if err := json.Unmarshal([]byte(removeOnComplete.String), &rp); err == nil {
			j.RemoveOnComplete = &rp
		}
	}
	if removeOnFail.Valid && removeOnFail.String != "" && removeOnFail.String != "null" {
		var rp RetentionPolicy
		if err := json.Unmarshal([]byte(removeOnFail.String), &rp); err == nil {
			j.RemoveOnFail = &rp
		}
	}
	return &j, nil
}

func decodePayload(payload []byte, out any) error {
	return msgpack.Unmarshal(payload, out)
}
