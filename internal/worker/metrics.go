// SPDX-License-Identifier: MIT

package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipwork",
		Subsystem: "worker",
		Name:      "jobs_total",
		Help:      "Finished jobs by type and outcome.",
	}, []string{"type", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "clipwork",
		Subsystem: "worker",
		Name:      "job_duration_seconds",
		Help:      "Wall time of finished jobs by type.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"type"})

	jobRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clipwork",
		Subsystem: "worker",
		Name:      "job_retries_total",
		Help:      "Automatic re-enqueues after transient failures.",
	})

	resultCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clipwork",
		Subsystem: "worker",
		Name:      "result_cache_hits_total",
		Help:      "Jobs completed from the result cache without processing.",
	})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "clipwork",
		Subsystem: "worker",
		Name:      "queue_depth",
		Help:      "Entries per queue set.",
	}, []string{"set"})
)
