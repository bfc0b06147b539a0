// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package obsv exports the process-wide Prometheus counters/gauges for
// the three collaborators whose internal state is otherwise invisible
// between requests: the AST cache,
// the message broker, and the job queue. Each collaborator package calls
// these package-level functions directly rather than importing
// prometheus itself, so pkg/cache/pkg/broker/pkg/jobs stay free of a
// metrics-registration concern beyond one call site per state change.
package obsv

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quantum",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total AST cache hits.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quantum",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total AST cache misses.",
	})
	cacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quantum",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Total AST cache LRU evictions.",
	})
	cacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "quantum",
		Subsystem: "cache",
		Name:      "resident_entries",
		Help:      "Current number of resident AST cache entries.",
	})

	brokerMessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quantum",
		Subsystem: "broker",
		Name:      "messages_published_total",
		Help:      "Total messages published by topic.",
	}, []string{"topic"})
	brokerMessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quantum",
		Subsystem: "broker",
		Name:      "messages_sent_total",
		Help:      "Total messages sent to a queue.",
	}, []string{"queue"})
	brokerNacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quantum",
		Subsystem: "broker",
		Name:      "nacks_total",
		Help:      "Total nacked deliveries by queue and requeue outcome.",
	}, []string{"queue", "requeued"})

	jobsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quantum",
		Subsystem: "jobs",
		Name:      "dispatched_total",
		Help:      "Total jobs dispatched by queue.",
	}, []string{"queue"})
	jobsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quantum",
		Subsystem: "jobs",
		Name:      "completed_total",
		Help:      "Total jobs reaching a terminal status, by queue and status.",
	}, []string{"queue", "status"})
	jobsRunningGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "quantum",
		Subsystem: "jobs",
		Name:      "running",
		Help:      "Current number of running jobs by queue.",
	}, []string{"queue"})
)

// CacheHit records an AST cache hit.
func CacheHit() { cacheHitsTotal.Inc() }

// CacheMiss records an AST cache miss.
func CacheMiss() { cacheMissesTotal.Inc() }

// CacheEviction records an LRU eviction.
func CacheEviction() { cacheEvictionsTotal.Inc() }

// SetCacheSize publishes the cache's current resident entry count.
func SetCacheSize(n int) { cacheSize.Set(float64(n)) }

// BrokerPublished records one message published to topic.
func BrokerPublished(topic string) { brokerMessagesPublished.WithLabelValues(topic).Inc() }

// BrokerSent records one message sent to queue.
func BrokerSent(queue string) { brokerMessagesSent.WithLabelValues(queue).Inc() }

// BrokerNack records one nack, noting whether the message was requeued.
func BrokerNack(queue string, requeued bool) {
	brokerNacksTotal.WithLabelValues(queue, boolLabel(requeued)).Inc()
}

// JobDispatched records one job dispatched onto queue.
func JobDispatched(queue string) { jobsDispatchedTotal.WithLabelValues(queue).Inc() }

// JobTerminal records a job reaching status (completed/failed/cancelled) on queue.
func JobTerminal(queue, status string) { jobsCompletedTotal.WithLabelValues(queue, status).Inc() }

// SetJobsRunning publishes the current running-job count for queue.
func SetJobsRunning(queue string, n int) { jobsRunningGauge.WithLabelValues(queue).Set(float64(n)) }

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
