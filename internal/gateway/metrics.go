package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type gatewayMetrics struct {
	connections prometheus.Gauge
	frames      *prometheus.CounterVec
	broadcasts  *prometheus.CounterVec
	overflows   prometheus.Counter
	rejected    prometheus.Counter
}

// newGatewayMetrics registers with reg; a nil reg keeps the collectors
// unregistered so tests can build many gateways.
func newGatewayMetrics(reg prometheus.Registerer) *gatewayMetrics {
	factory := promauto.With(reg)
	return &gatewayMetrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reviewroom_gateway_connections",
			Help: "Open websocket connections.",
		}),
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewroom_gateway_frames_total",
			Help: "Inbound frames by type and result.",
		}, []string{"type", "result"}),
		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewroom_gateway_broadcasts_total",
			Help: "Events fanned out to session rooms.",
		}, []string{"type"}),
		overflows: factory.NewCounter(prometheus.CounterOpts{
			Name: "reviewroom_gateway_queue_overflows_total",
			Help: "Connections closed because their outbound queue was full.",
		}),
		rejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "reviewroom_gateway_unauthenticated_total",
			Help: "Upgrade requests refused for a missing or invalid token.",
		}),
	}
}
