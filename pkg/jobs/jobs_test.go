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
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"1h":  time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
		"45":  45 * time.Second,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDuration("abc")
	assert.Error(t, err)
}

func TestFormatDurationTwoUnitsLargestFirst(t *testing.T) {
	assert.Equal(t, "1w 2d", FormatDuration(9*24*time.Hour))
	assert.Equal(t, "5m 30s", FormatDuration(5*time.Minute+30*time.Second))
	assert.Equal(t, "0s", FormatDuration(0))
}

func TestThreadPoolRunAndJoin(t *testing.T) {
	pool := newThreadPool(2, func(ctx context.Context, handler string, args map[string]any) (any, error) {
		return "ok:" + handler, nil
	})
	pool.Start(2)
	defer pool.Stop()

	require.NoError(t, pool.Run("t1", "doWork", PriorityNormal, nil))
	result, err := pool.Join("t1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok:doWork", result)
}

func TestThreadPoolJoinPropagatesHandlerError(t *testing.T) {
	pool := newThreadPool(1, func(ctx context.Context, handler string, args map[string]any) (any, error) {
		return nil, fmt.Errorf("boom")
	})
	pool.Start(1)
	defer pool.Stop()

	require.NoError(t, pool.Run("t1", "failing", PriorityHigh, nil))
	_, err := pool.Join("t1", time.Second)
	assert.Error(t, err)

	info, ok := pool.Info("t1")
	require.True(t, ok)
	assert.Equal(t, ThreadFailed, info.Status)
}

func TestSchedulerIntervalFiresInvoker(t *testing.T) {
	var calls int64
	sched := newScheduler(func(ctx context.Context, handler string, args map[string]any) (any, error) {
		atomic.AddInt64(&calls, 1)
		return nil, nil
	})
	sched.Start()
	defer sched.Stop()

	require.NoError(t, sched.Schedule("tick", "1s", "", "onTick"))
	time.Sleep(2200 * time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt64(&calls), int64(2))

	require.NoError(t, sched.Pause("tick"))
	before := atomic.LoadInt64(&calls)
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, before, atomic.LoadInt64(&calls))

	require.NoError(t, sched.Remove("tick"))
	assert.NotContains(t, sched.List(), "tick")
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDurableQueueDispatchAndCompletion(t *testing.T) {
	db := openTestDB(t)
	var ran int64
	queue, err := newDurableQueue(db, func(ctx context.Context, handler string, args map[string]any) (any, error) {
		atomic.AddInt64(&ran, 1)
		return nil, nil
	})
	require.NoError(t, err)
	queue.StartWorker("default", 50*time.Millisecond)
	defer queue.Stop()

	id, err := queue.Dispatch(context.Background(), "send-welcome", "emailHandler", map[string]any{"to": "a@b.com"}, 1, "default", 1, 0, 1)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		job, err := queue.Get(id)
		return err == nil && job.Status == JobCompleted
	}, 2*time.Second, 50*time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&ran))
}

func TestDurableQueueRetriesThenSucceeds(t *testing.T) {
	db := openTestDB(t)
	var attempt int64
	queue, err := newDurableQueue(db, func(ctx context.Context, handler string, args map[string]any) (any, error) {
		n := atomic.AddInt64(&attempt, 1)
		if n == 1 {
			return nil, fmt.Errorf("transient failure")
		}
		return nil, nil
	})
	require.NoError(t, err)
	queue.StartWorker("default", 50*time.Millisecond)
	defer queue.Stop()

	id, err := queue.Dispatch(context.Background(), "retry-job", "flaky", nil, 2, "default", 1, 0, 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := queue.Get(id)
		return err == nil && job.Status == JobCompleted
	}, 3*time.Second, 50*time.Millisecond)

	job, err := queue.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)
}

func TestDurableQueueCancelOnlyWhilePending(t *testing.T) {
	db := openTestDB(t)
	queue, err := newDurableQueue(db, func(ctx context.Context, handler string, args map[string]any) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)

	id, err := queue.Dispatch(context.Background(), "never-runs", "h", nil, 1, "idle-queue", 1, time.Hour, 1)
	require.NoError(t, err)

	ok, err := queue.Cancel(id)
	require.NoError(t, err)
	assert.True(t, ok)

	job, err := queue.Get(id)
	require.NoError(t, err)
	assert.Equal(t, JobCancelled, job.Status)
}

func TestBackoffForGrowsGeometricallyCappedAt30s(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(1, 1))
	assert.InDelta(t, 1.5, Backoff(2, 1).Seconds(), 0.001)
	assert.Equal(t, 30*time.Second, Backoff(20, 1))
}

func TestMigratorAppliesEmbeddedSetOnce(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db, nil)
	require.NoError(t, m.Apply())

	applied, err := m.Applied()
	require.NoError(t, err)
	assert.Equal(t, []int{1}, applied)

	var checksum string
	require.NoError(t, db.QueryRow(`SELECT checksum FROM _migrations WHERE version=1`).Scan(&checksum))
	assert.Len(t, checksum, 64)

	// Re-applying is idempotent: the recorded checksum matches the file,
	// so nothing re-runs and nothing errors.
	require.NoError(t, m.Apply())

	// The migrated schema is usable.
	_, err = db.Exec(`INSERT INTO _jobs (id, name, queue, handler, params, scheduled_at, created_at)
		VALUES ('j1', 'n', 'default', 'h', '{}', ?, ?)`, time.Now(), time.Now())
	require.NoError(t, err)
}

func TestMigratorRollbackRemovesSchemaAndRecord(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db, nil)
	require.NoError(t, m.Apply())
	require.NoError(t, m.Rollback(1))

	applied, err := m.Applied()
	require.NoError(t, err)
	assert.Empty(t, applied)

	_, err = db.Exec(`SELECT COUNT(*) FROM _jobs`)
	assert.Error(t, err, "_jobs must be dropped by the down migration")
}

func TestServiceSatisfiesJobServiceShape(t *testing.T) {
	db := openTestDB(t)
	svc, err := New(db, func(ctx context.Context, handler string, args map[string]any) (any, error) {
		return "done", nil
	}, Options{MaxWorkers: 1, PollInterval: 50 * time.Millisecond})
	require.NoError(t, err)
	defer svc.Stop()

	require.NoError(t, svc.RunThread("t1", "h1", PriorityNormal, nil))
	require.NoError(t, svc.Schedule("s1", "1s", "", "h2"))
	jobID, err := svc.Dispatch("j1", "h3", nil, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)
}
