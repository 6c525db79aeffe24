package view

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var recomputations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tasksync",
	Name:      "view_recomputations_total",
	Help:      "Derived view stage executions, by stage.",
}, []string{"stage"})
