package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tasksync",
		Subsystem: "query_cache",
		Name:      "requests_total",
		Help:      "Query cache reads by result (hit, miss, stale).",
	}, []string{"result"})

	cacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tasksync",
		Subsystem: "query_cache",
		Name:      "invalidations_total",
		Help:      "Cached queries transitioned to stale by invalidation.",
	})

	cacheFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tasksync",
		Subsystem: "query_cache",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of query fetches.",
		Buckets:   prometheus.DefBuckets,
	})
)
