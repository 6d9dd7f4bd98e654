package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type coordinatorMetrics struct {
	mutations     *prometheus.CounterVec
	storeFailures *prometheus.CounterVec
}

func newCoordinatorMetrics(promRegistry prometheus.Registerer) *coordinatorMetrics {
	promautoFactory := promauto.With(promRegistry)
	return &coordinatorMetrics{
		mutations: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewroom_coordinator_operations_total",
				Help: "coordinator operations by name and result code",
			},
			[]string{"op", "result"},
		),
		storeFailures: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewroom_store_failures_total",
				Help: "failed store calls, counted per attempt",
			},
			[]string{"op"},
		),
	}
}
