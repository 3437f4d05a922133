package chat

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	connections   prometheus.Gauge
	online        prometheus.Gauge
	events        *prometheus.CounterVec
	droppedFrames prometheus.Counter
}

// NewMetrics registers the gateway collectors on reg. A nil reg keeps them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pshop",
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pshop",
			Subsystem: "gateway",
			Name:      "online_users",
			Help:      "Users in the presence registry.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pshop",
			Subsystem: "gateway",
			Name:      "events_total",
			Help:      "Inbound events by name and result code.",
		}, []string{"event", "result"}),
		droppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pshop",
			Subsystem: "gateway",
			Name:      "dropped_frames_total",
			Help:      "Outbound frames dropped because a send queue was full.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.online, m.events, m.droppedFrames)
	}
	return m
}

func (m *Metrics) event(name, result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name, result).Inc()
}

func (m *Metrics) dropped() {
	if m == nil {
		return
	}
	m.droppedFrames.Inc()
}
