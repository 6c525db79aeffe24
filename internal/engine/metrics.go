package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tasksync",
		Name:      "mutations_total",
		Help:      "Settled mutations by kind, op and outcome.",
	}, []string{"kind", "op", "outcome"})

	mutationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tasksync",
		Name:      "mutation_duration_seconds",
		Help:      "Time from dispatch to settlement.",
		Buckets:   prometheus.DefBuckets,
	})
)
