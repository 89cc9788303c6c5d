package bridge

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	connections prometheus.Gauge
	operations  *prometheus.CounterVec
	delivered   prometheus.Counter
	dropped     prometheus.Counter
}

// newMetrics builds the bridge collectors. With a nil registerer they still
// count, they are just not exported anywhere.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_bridge_connected_connections",
			Help: "Connections currently in the connected state.",
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_bridge_operations_total",
			Help: "Handled operations by op name.",
		}, []string{"op"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_bridge_envelopes_delivered_total",
			Help: "Notification envelopes enqueued to connections.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_bridge_frames_dropped_total",
			Help: "Outbound frames dropped because a connection buffer was full.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.operations, m.delivered, m.dropped)
	}
	return m
}
