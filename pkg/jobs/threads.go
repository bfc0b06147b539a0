// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HandlerFunc invokes a named handler (a q:function, in the caller's
// domain) with the given arguments. Every cooperating service in this
// package (thread pool, scheduler, durable queue) is handed one at
// construction and never interprets handler bodies itself.
type HandlerFunc func(ctx context.Context, handler string, args map[string]any) (any, error)

// Thread statuses for a thread handle.
const (
	ThreadPending    = "pending"
	ThreadRunning    = "running"
	ThreadCompleted  = "completed"
	ThreadFailed     = "failed"
	ThreadTerminated = "terminated"
)

// Priority levels a q:thread's `priority` attribute maps to (the parser
// priorityOf: low=0, normal=1, high=2).
const (
	PriorityLow    = 0
	PriorityNormal = 1
	PriorityHigh   = 2
)

type threadJob struct {
	name    string
	handler string
	args    map[string]any
}

// ThreadInfo is the Thread handle record.
type ThreadInfo struct {
	Name      string
	Status    string
	Priority  int
	StartTime time.Time
	EndTime   time.Time
	Result    any
	Err       error
}

// ThreadPool is a bounded pool of workers draining three priority
// channels with a priority-biased select, so higher-priority work runs
// first whenever a worker is free but lower-priority work is never
// starved outright (the low-priority channel is still polled on every
// pass through the pool's dispatch loop).
type ThreadPool struct {
	mu      sync.Mutex
	infos   map[string]*ThreadInfo
	waiters map[string][]chan struct{}

	high, normal, low chan threadJob
	quit              chan struct{}
	wg                sync.WaitGroup
	invoker           HandlerFunc
}

func newThreadPool(maxWorkers int, invoker HandlerFunc) *ThreadPool {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	return &ThreadPool{
		infos:   make(map[string]*ThreadInfo),
		waiters: make(map[string][]chan struct{}),
		high:    make(chan threadJob, 256),
		normal:  make(chan threadJob, 256),
		low:     make(chan threadJob, 256),
		quit:    make(chan struct{}),
		invoker: invoker,
	}
}

// Start launches maxWorkers dispatch goroutines.
func (p *ThreadPool) Start(maxWorkers int) {
	for i := 0; i < maxWorkers; i++ {
		p.wg.Add(1)
		go p.loop()
	}
}

func (p *ThreadPool) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case job := <-p.high:
			p.run(job)
			continue
		default:
		}
		select {
		case <-p.quit:
			return
		case job := <-p.high:
			p.run(job)
		case job := <-p.normal:
			p.run(job)
		case job := <-p.low:
			p.run(job)
		}
	}
}

func (p *ThreadPool) run(job threadJob) {
	p.mu.Lock()
	info := p.infos[job.name]
	info.Status = ThreadRunning
	info.StartTime = time.Now()
	p.mu.Unlock()

	result, err := p.invoker(context.Background(), job.handler, job.args)

	p.mu.Lock()
	info.EndTime = time.Now()
	info.Result = result
	info.Err = err
	if err != nil {
		info.Status = ThreadFailed
	} else {
		info.Status = ThreadCompleted
	}
	waiters := p.waiters[job.name]
	delete(p.waiters, job.name)
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Run enqueues name/handler/args at the given priority and returns
// immediately; it is the q:thread statement's fire-and-forget contract.
func (p *ThreadPool) Run(name, handler string, priority int, args map[string]any) error {
	p.mu.Lock()
	p.infos[name] = &ThreadInfo{Name: name, Status: ThreadPending, Priority: priority}
	p.mu.Unlock()

	job := threadJob{name: name, handler: handler, args: args}
	var ch chan threadJob
	switch {
	case priority >= PriorityHigh:
		ch = p.high
	case priority <= PriorityLow:
		ch = p.low
	default:
		ch = p.normal
	}
	select {
	case ch <- job:
		return nil
	default:
		return fmt.Errorf("jobs: thread pool saturated, dropping %q", name)
	}
}

// Join blocks until name completes or timeout elapses, returning its
// result (or the error it failed with).
func (p *ThreadPool) Join(name string, timeout time.Duration) (any, error) {
	p.mu.Lock()
	info, ok := p.infos[name]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("jobs: no such thread %q", name)
	}
	if info.Status == ThreadCompleted || info.Status == ThreadFailed || info.Status == ThreadTerminated {
		result, err := info.Result, info.Err
		p.mu.Unlock()
		return result, err
	}
	done := make(chan struct{})
	p.waiters[name] = append(p.waiters[name], done)
	p.mu.Unlock()

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-done:
		p.mu.Lock()
		result, err := info.Result, info.Err
		p.mu.Unlock()
		return result, err
	case <-time.After(timeout):
		return nil, fmt.Errorf("jobs: join %q timed out after %s", name, timeout)
	}
}

// Terminate marks name terminated. Cancellation is best-effort: a
// goroutine already executing the handler is not interrupted, only
// flagged.
func (p *ThreadPool) Terminate(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.infos[name]
	if !ok {
		return fmt.Errorf("jobs: no such thread %q", name)
	}
	if info.Status == ThreadPending || info.Status == ThreadRunning {
		info.Status = ThreadTerminated
		info.EndTime = time.Now()
	}
	return nil
}

// Info returns name's current ThreadInfo snapshot.
func (p *ThreadPool) Info(name string) (ThreadInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.infos[name]
	if !ok {
		return ThreadInfo{}, false
	}
	return *info, true
}

// Stop signals every worker goroutine to exit and waits for them.
func (p *ThreadPool) Stop() {
	close(p.quit)
	p.wg.Wait()
}
