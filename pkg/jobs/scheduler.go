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

	"github.com/robfig/cron/v3"
)

type scheduleEntry struct {
	id       cron.EntryID
	interval string
	cronExpr string
	handler  string
	paused   bool
}

// Scheduler wraps robfig/cron to accept either an interval duration
// string (translated to an `@every` spec) or a raw cron expression,
// with pause/resume/remove/list bookkeeping on top of entries cron
// itself doesn't track by name.
type Scheduler struct {
	mu      sync.Mutex
	cr      *cron.Cron
	entries map[string]*scheduleEntry
	invoker HandlerFunc
}

func newScheduler(invoker HandlerFunc) *Scheduler {
	return &Scheduler{
		cr:      cron.New(cron.WithSeconds()),
		entries: make(map[string]*scheduleEntry),
		invoker: invoker,
	}
}

// Start begins firing registered entries.
func (s *Scheduler) Start() { s.cr.Start() }

// Stop halts the cron runner, waiting for any in-flight callback.
func (s *Scheduler) Stop() { <-s.cr.Stop().Done() }

// Schedule registers (or replaces) name's trigger. Exactly one of
// interval/cronExpr must be set.
func (s *Scheduler) Schedule(name, interval, cronExpr, handler string) error {
	var spec string
	switch {
	case cronExpr != "":
		spec = cronExpr
	case interval != "":
		d, err := ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("jobs: schedule %q: %w", name, err)
		}
		spec = fmt.Sprintf("@every %s", d)
	default:
		return fmt.Errorf("jobs: schedule %q needs an interval or cron expression", name)
	}

	s.mu.Lock()
	if existing, ok := s.entries[name]; ok {
		s.cr.Remove(existing.id)
	}
	s.mu.Unlock()

	id, err := s.cr.AddFunc(spec, func() {
		s.mu.Lock()
		entry, ok := s.entries[name]
		paused := ok && entry.paused
		s.mu.Unlock()
		if paused {
			return
		}
		_, _ = s.invoker(context.Background(), handler, nil)
	})
	if err != nil {
		return fmt.Errorf("jobs: schedule %q: invalid trigger %q: %w", name, spec, err)
	}

	s.mu.Lock()
	s.entries[name] = &scheduleEntry{id: id, interval: interval, cronExpr: cronExpr, handler: handler}
	s.mu.Unlock()
	return nil
}

// Pause suspends name's trigger without removing it from cron (so its
// slot in the schedule is preserved for Resume).
func (s *Scheduler) Pause(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("jobs: no such schedule %q", name)
	}
	entry.paused = true
	return nil
}

// Resume un-suspends a paused entry.
func (s *Scheduler) Resume(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("jobs: no such schedule %q", name)
	}
	entry.paused = false
	return nil
}

// Remove deregisters name entirely.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("jobs: no such schedule %q", name)
	}
	s.cr.Remove(entry.id)
	delete(s.entries, name)
	return nil
}

// List returns every registered schedule name.
func (s *Scheduler) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for name := range s.entries {
		out = append(out, name)
	}
	return out
}
