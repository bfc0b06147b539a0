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
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Service wires the thread pool, scheduler, and durable queue into the
// three operations pkg/runtime's JobService needs (RunThread, Schedule,
// Dispatch), plus the rest of the job component's named operations (join/terminate,
// pause/resume/remove/list, cancel/get/list/stats) as additional public
// API for callers that need the full surface.
type Service struct {
	threads *ThreadPool
	sched   *Scheduler
	queue   *DurableQueue
}

// Options configures New.
type Options struct {
	MaxWorkers   int           // thread pool size, default 4
	DefaultQueue string        // durable queue name polled by the background worker, default "default"
	PollInterval time.Duration // durable queue poll cadence, default 1s
}

// New opens (or reuses) db for the durable job queue, starts the thread
// pool and scheduler, and launches a background poller for the default
// queue. invoker is how every service here actually executes a named
// handler; it is owned by whoever wires the interpreter to this package
// (see cmd/quantum), since only that caller knows how to resolve a
// handler name back to a q:function body.
func New(db *sql.DB, invoker HandlerFunc, opts Options) (*Service, error) {
	if invoker == nil {
		invoker = func(ctx context.Context, handler string, args map[string]any) (any, error) {
			return nil, fmt.Errorf("jobs: no handler invoker configured (handler %q)", handler)
		}
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	if opts.DefaultQueue == "" {
		opts.DefaultQueue = "default"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	dq, err := newDurableQueue(db, invoker)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		threads: newThreadPool(opts.MaxWorkers, invoker),
		sched:   newScheduler(invoker),
		queue:   dq,
	}
	svc.threads.Start(opts.MaxWorkers)
	svc.sched.Start()
	svc.queue.StartWorker(opts.DefaultQueue, opts.PollInterval)
	return svc, nil
}

// RunThread satisfies runtime.JobService.
func (s *Service) RunThread(name, handler string, priority int, args map[string]any) error {
	return s.threads.Run(name, handler, priority, args)
}

// Schedule satisfies runtime.JobService.
func (s *Service) Schedule(name, interval, cron, handler string) error {
	return s.sched.Schedule(name, interval, cron, handler)
}

// Dispatch satisfies runtime.JobService, enqueuing onto the default
// queue at normal priority with a 1s base backoff; use DispatchFull for
// the full dispatch parameter set.
func (s *Service) Dispatch(name, handler string, args map[string]any, maxAttempts int) (string, error) {
	return s.queue.Dispatch(context.Background(), name, handler, args, maxAttempts, "default", PriorityNormal, 0, 1)
}

// DispatchFull exposes every dispatch parameter (queue, priority,
// delay, backoff) for callers that need more than the JobService
// interface's reduced signature.
func (s *Service) DispatchFull(name, handler string, args map[string]any, maxAttempts int, queue string, priority int, delay time.Duration, backoffSeconds int) (string, error) {
	return s.queue.Dispatch(context.Background(), name, handler, args, maxAttempts, queue, priority, delay, backoffSeconds)
}

// Join blocks on a thread started via RunThread.
func (s *Service) Join(name string, timeout time.Duration) (any, error) {
	return s.threads.Join(name, timeout)
}

// Terminate best-effort cancels a thread started via RunThread.
func (s *Service) Terminate(name string) error { return s.threads.Terminate(name) }

// ThreadInfo returns a thread's current handle snapshot.
func (s *Service) ThreadInfo(name string) (ThreadInfo, bool) { return s.threads.Info(name) }

// CancelJob cancels a still-pending durable job.
func (s *Service) CancelJob(jobID string) (bool, error) { return s.queue.Cancel(jobID) }

// GetJob fetches a durable job by ID.
func (s *Service) GetJob(jobID string) (*Job, error) { return s.queue.Get(jobID) }

// ListJobs lists durable jobs, optionally filtered by status and queue.
func (s *Service) ListJobs(status, queue string) ([]*Job, error) { return s.queue.List(status, queue) }

// JobStats tallies durable job counts by status.
func (s *Service) JobStats(queue string) (map[string]any, error) { return s.queue.Stats(queue) }

// PauseSchedule suspends a registered schedule without removing it.
func (s *Service) PauseSchedule(name string) error { return s.sched.Pause(name) }

// ResumeSchedule un-suspends a paused schedule.
func (s *Service) ResumeSchedule(name string) error { return s.sched.Resume(name) }

// RemoveSchedule deregisters a schedule entirely.
func (s *Service) RemoveSchedule(name string) error { return s.sched.Remove(name) }

// ListSchedules returns every registered schedule's name.
func (s *Service) ListSchedules() []string { return s.sched.List() }

// Stop halts the thread pool, scheduler, and durable queue worker.
func (s *Service) Stop() {
	s.threads.Stop()
	s.sched.Stop()
	s.queue.Stop()
}
