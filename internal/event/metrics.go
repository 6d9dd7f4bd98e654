package event

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type busMetrics struct {
	published   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	subscribers prometheus.Gauge
}

func (b *Bus) initMetrics(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	b.metrics = &busMetrics{
		published: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewroom_events_published_total",
				Help: "events published by type",
			},
			[]string{"type"},
		),
		dropped: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewroom_events_dropped_total",
				Help: "events dropped because an async subscriber queue was full",
			},
			[]string{"subscriber"},
		),
		subscribers: promautoFactory.NewGauge(
			prometheus.GaugeOpts{
				Name: "reviewroom_event_subscribers",
				Help: "current number of bus subscribers",
			},
		),
	}
}
