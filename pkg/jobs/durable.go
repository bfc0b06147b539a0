// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantumlang/core/pkg/logging"
	"github.com/quantumlang/core/pkg/obsv"
)

// Job statuses for a job record.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Job is one persisted job record. handler is stored per-row (rather
// than via a separate name-keyed registerHandler table) because the XML
// dialect's q:job statement always carries its handler name inline —
// there is no indirection to preserve.
type Job struct {
	ID             string
	Name           string
	Queue          string
	Handler        string
	Params         map[string]any
	Priority       int
	Status         string
	Attempts       int
	MaxAttempts    int
	BackoffSeconds int
	ScheduledAt    time.Time
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	LastError      string
}

// DurableQueue persists jobs in SQLite and runs a background poller per
// queue implementing the worker loop: atomic claim, invoke,
// geometric backoff (×1.5, capped at 30s) on failure.
type DurableQueue struct {
	db      *sql.DB
	invoker HandlerFunc
	logger  *logging.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

func newDurableQueue(db *sql.DB, invoker HandlerFunc) (*DurableQueue, error) {
	if err := NewMigrator(db, nil).Apply(); err != nil {
		return nil, err
	}
	return &DurableQueue{
		db: db, invoker: invoker, stopCh: make(chan struct{}),
		logger: logging.Default().WithComponent(logging.ComponentJobs),
	}, nil
}

// SetLogger overrides the queue's logger (defaults to
// logging.Default().WithComponent(logging.ComponentJobs)).
func (q *DurableQueue) SetLogger(l *logging.Logger) {
	if l != nil {
		q.logger = l.WithComponent(logging.ComponentJobs)
	}
}

// Dispatch inserts a new pending job row and returns its generated ID.
func (q *DurableQueue) Dispatch(ctx context.Context, name, handler string, args map[string]any, maxAttempts int, queue string, priority int, delay time.Duration, backoffSeconds int) (string, error) {
	if queue == "" {
		queue = "default"
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if backoffSeconds <= 0 {
		backoffSeconds = 1
	}
	params, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("jobs: marshal params for %q: %w", name, err)
	}
	id := uuid.NewString()
	now := time.Now()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO _jobs (id, name, queue, handler, params, priority, status, attempts, max_attempts, backoff_seconds, scheduled_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		id, name, queue, handler, string(params), priority, maxAttempts, backoffSeconds, now.Add(delay), now)
	if err != nil {
		return "", fmt.Errorf("jobs: dispatch %q: %w", name, err)
	}
	obsv.JobDispatched(queue)
	return id, nil
}

// DispatchBatch dispatches each spec in order, stopping at the first
// error and returning the IDs assigned so far.
func (q *DurableQueue) DispatchBatch(ctx context.Context, specs []Job) ([]string, error) {
	ids := make([]string, 0, len(specs))
	for _, s := range specs {
		id, err := q.Dispatch(ctx, s.Name, s.Handler, s.Params, s.MaxAttempts, s.Queue, s.Priority, 0, s.BackoffSeconds)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Cancel marks jobID cancelled iff it is still pending
// ("cancellation of pending jobs is atomic at the SQL level").
func (q *DurableQueue) Cancel(jobID string) (bool, error) {
	res, err := q.db.Exec(`UPDATE _jobs SET status='cancelled' WHERE id=? AND status='pending'`, jobID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanJob(row interface {
	Scan(dest ...any) error
}) (*Job, error) {
	var j Job
	var params string
	var startedAt, finishedAt sql.NullTime
	var lastError sql.NullString
	if err := row.Scan(&j.ID, &j.Name, &j.Queue, &j.Handler, &params, &j.Priority, &j.Status,
		&j.Attempts, &j.MaxAttempts, &j.BackoffSeconds, &j.ScheduledAt, &j.CreatedAt,
		&startedAt, &finishedAt, &lastError); err != nil {
		return nil, err
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		j.FinishedAt = &finishedAt.Time
	}
	j.LastError = lastError.String
	_ = json.Unmarshal([]byte(params), &j.Params)
	return &j, nil
}

const jobColumns = `id, name, queue, handler, params, priority, status, attempts, max_attempts, backoff_seconds, scheduled_at, created_at, started_at, finished_at, last_error`

// Get fetches a single job by ID.
func (q *DurableQueue) Get(jobID string) (*Job, error) {
	row := q.db.QueryRow(`SELECT `+jobColumns+` FROM _jobs WHERE id=?`, jobID)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("jobs: no such job %q", jobID)
	}
	return j, err
}

// List returns jobs matching status/queue; either filter may be empty
// to mean "any".
func (q *DurableQueue) List(status, queue string) ([]*Job, error) {
	rows, err := q.db.Query(`SELECT `+jobColumns+` FROM _jobs
		WHERE (? = '' OR status = ?) AND (? = '' OR queue = ?)
		ORDER BY created_at DESC`, status, status, queue, queue)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return out, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Stats tallies job counts by status, optionally scoped to one queue.
func (q *DurableQueue) Stats(queue string) (map[string]any, error) {
	rows, err := q.db.Query(`SELECT status, COUNT(*) FROM _jobs WHERE ? = '' OR queue = ? GROUP BY status`, queue, queue)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]any{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// StartWorker launches a background poller for queue, claiming and
// running at most one job per pollInterval tick.
func (q *DurableQueue) StartWorker(queue string, pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-q.stopCh:
				return
			case <-ticker.C:
				q.claimAndRun(queue)
			}
		}
	}()
}

// Stop halts every worker goroutine started via StartWorker.
func (q *DurableQueue) Stop() {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	close(q.stopCh)
	q.wg.Wait()
}

func (q *DurableQueue) claimAndRun(queue string) {
	job, ok, err := q.claimNext(queue)
	if err != nil || !ok {
		return
	}
	q.execute(job)
}

// claimNext implements the claim step of the worker loop inside a single
// transaction: select the highest-priority, earliest-scheduled pending
// job still under its attempt budget, and mark it running.
func (q *DurableQueue) claimNext(queue string) (*Job, bool, error) {
	tx, err := q.db.Begin()
	if err != nil {
		return nil, false, err
	}
	row := tx.QueryRow(`SELECT `+jobColumns+` FROM _jobs
		WHERE status='pending' AND queue=? AND scheduled_at<=? AND attempts<max_attempts
		ORDER BY priority DESC, scheduled_at ASC LIMIT 1`, queue, time.Now())
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, false, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, false, err
	}
	now := time.Now()
	if _, err := tx.Exec(`UPDATE _jobs SET status='running', started_at=? WHERE id=?`, now, job.ID); err != nil {
		tx.Rollback()
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	job.Status = JobRunning
	job.StartedAt = &now
	return job, true, nil
}

// execute runs the invoke/settle steps of the worker loop: invoke the handler,
// then mark completed or reschedule with geometric backoff / mark
// failed once max_attempts is exhausted.
func (q *DurableQueue) execute(job *Job) {
	_, err := q.invoker(context.Background(), job.Handler, job.Params)
	attempts := job.Attempts + 1
	if err == nil {
		q.db.Exec(`UPDATE _jobs SET status='completed', attempts=?, finished_at=? WHERE id=?`,
			attempts, time.Now(), job.ID)
		obsv.JobTerminal(job.Queue, "completed")
		return
	}
	if attempts < job.MaxAttempts {
		backoff := Backoff(attempts, job.BackoffSeconds)
		q.logger.Warn("job attempt failed, rescheduling", "job_id", job.ID, "queue", job.Queue,
			"attempt", attempts, "max_attempts", job.MaxAttempts, "backoff", backoff.String(), "error", err.Error())
		q.db.Exec(`UPDATE _jobs SET status='pending', attempts=?, scheduled_at=?, last_error=? WHERE id=?`,
			attempts, time.Now().Add(backoff), err.Error(), job.ID)
		return
	}
	q.logger.Error("job failed, attempts exhausted", "job_id", job.ID, "queue", job.Queue,
		"attempt", attempts, "max_attempts", job.MaxAttempts, "error", err.Error())
	q.db.Exec(`UPDATE _jobs SET status='failed', attempts=?, finished_at=?, last_error=? WHERE id=?`,
		attempts, time.Now(), err.Error(), job.ID)
	obsv.JobTerminal(job.Queue, "failed")
}
