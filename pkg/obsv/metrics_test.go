// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package obsv

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCacheCounters(t *testing.T) {
	before := testutil.ToFloat64(cacheHitsTotal)
	CacheHit()
	assert.Equal(t, before+1, testutil.ToFloat64(cacheHitsTotal))

	before = testutil.ToFloat64(cacheMissesTotal)
	CacheMiss()
	assert.Equal(t, before+1, testutil.ToFloat64(cacheMissesTotal))

	before = testutil.ToFloat64(cacheEvictionsTotal)
	CacheEviction()
	assert.Equal(t, before+1, testutil.ToFloat64(cacheEvictionsTotal))

	SetCacheSize(42)
	assert.Equal(t, float64(42), testutil.ToFloat64(cacheSize))
}

func TestBrokerCounters(t *testing.T) {
	before := testutil.ToFloat64(brokerMessagesPublished.WithLabelValues("orders"))
	BrokerPublished("orders")
	assert.Equal(t, before+1, testutil.ToFloat64(brokerMessagesPublished.WithLabelValues("orders")))

	before = testutil.ToFloat64(brokerMessagesSent.WithLabelValues("work"))
	BrokerSent("work")
	assert.Equal(t, before+1, testutil.ToFloat64(brokerMessagesSent.WithLabelValues("work")))

	before = testutil.ToFloat64(brokerNacksTotal.WithLabelValues("work", "true"))
	BrokerNack("work", true)
	assert.Equal(t, before+1, testutil.ToFloat64(brokerNacksTotal.WithLabelValues("work", "true")))

	before = testutil.ToFloat64(brokerNacksTotal.WithLabelValues("work", "false"))
	BrokerNack("work", false)
	assert.Equal(t, before+1, testutil.ToFloat64(brokerNacksTotal.WithLabelValues("work", "false")))
}

func TestJobCounters(t *testing.T) {
	before := testutil.ToFloat64(jobsDispatchedTotal.WithLabelValues("default"))
	JobDispatched("default")
	assert.Equal(t, before+1, testutil.ToFloat64(jobsDispatchedTotal.WithLabelValues("default")))

	before = testutil.ToFloat64(jobsCompletedTotal.WithLabelValues("default", "completed"))
	JobTerminal("default", "completed")
	assert.Equal(t, before+1, testutil.ToFloat64(jobsCompletedTotal.WithLabelValues("default", "completed")))

	SetJobsRunning("default", 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(jobsRunningGauge.WithLabelValues("default")))
}
