package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fenggwsx/StayChat/internal/protocol"
)

// Metrics groups the relay's prometheus collectors.
type Metrics struct {
	Connections   prometheus.Gauge
	Rooms         prometheus.Gauge
	TypingActive  prometheus.Gauge
	FramesIn      *prometheus.CounterVec
	FramesOut     *prometheus.CounterVec
	FramesDropped *prometheus.CounterVec
	Rejected      *prometheus.CounterVec
}

// NewMetrics registers the relay collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "staychat_relay_connections",
			Help: "Live websocket connections",
		}),
		Rooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "staychat_relay_rooms",
			Help: "Rooms with at least one member",
		}),
		TypingActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "staychat_relay_typing_active",
			Help: "Typing indicators currently active",
		}),
		FramesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "staychat_relay_frames_in_total",
			Help: "Inbound frames by event",
		}, []string{"event"}),
		FramesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "staychat_relay_frames_out_total",
			Help: "Frames queued for delivery by event",
		}, []string{"event"}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "staychat_relay_frames_dropped_total",
			Help: "Frames dropped because a connection queue was full",
		}, []string{"event"}),
		Rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "staychat_relay_rejected_total",
			Help: "Inbound frames answered with an error",
		}, []string{"event"}),
	}
}

func (m *Metrics) delivered(event protocol.Event, queued, dropped int) {
	if queued > 0 {
		m.FramesOut.WithLabelValues(string(event)).Add(float64(queued))
	}
	if dropped > 0 {
		m.FramesDropped.WithLabelValues(string(event)).Add(float64(dropped))
	}
}
