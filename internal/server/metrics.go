package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type chatMetrics struct {
	activeConnections prometheus.Gauge
	connectionTotal   prometheus.Counter
	eventErrors       *prometheus.CounterVec
	eventLatency      *prometheus.HistogramVec
	deliveries        *prometheus.CounterVec
	messagesStored    prometheus.Counter
	typingSignals     prometheus.Counter
	statusBroadcasts  prometheus.Counter
}

func newChatMetrics(reg prometheus.Registerer) *chatMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &chatMetrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Current number of live WebSocket connections.",
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_connections_total",
			Help: "Total number of connections handled since start.",
		}),
		eventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_event_errors_total",
			Help: "Event validation or routing errors.",
		}, []string{"code"}),
		eventLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_event_latency_seconds",
			Help:    "Latency for handling inbound events.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"op"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_deliveries_total",
			Help: "Live delivery attempts grouped by result.",
		}, []string{"result"}),
		messagesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_stored_total",
			Help: "Messages durably recorded in the store.",
		}),
		typingSignals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_typing_signals_total",
			Help: "Typing signals routed to online recipients.",
		}),
		statusBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_status_broadcasts_total",
			Help: "Presence-change announcements fanned out.",
		}),
	}

	reg.MustRegister(
		m.activeConnections,
		m.connectionTotal,
		m.eventErrors,
		m.eventLatency,
		m.deliveries,
		m.messagesStored,
		m.typingSignals,
		m.statusBroadcasts,
	)
	return m
}

func (m *chatMetrics) incConnection() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
	m.connectionTotal.Inc()
}

func (m *chatMetrics) decConnection() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *chatMetrics) recordError(code string) {
	if m == nil {
		return
	}
	m.eventErrors.WithLabelValues(code).Inc()
}

func (m *chatMetrics) observeLatency(op string, dur time.Duration) {
	if m == nil || op == "" {
		return
	}
	m.eventLatency.WithLabelValues(op).Observe(dur.Seconds())
}

func (m *chatMetrics) recordDelivery(result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.deliveries.WithLabelValues(result).Inc()
}

func (m *chatMetrics) recordMessageStored() {
	if m == nil {
		return
	}
	m.messagesStored.Inc()
}

func (m *chatMetrics) recordTyping() {
	if m == nil {
		return
	}
	m.typingSignals.Inc()
}

func (m *chatMetrics) recordBroadcast() {
	if m == nil {
		return
	}
	m.statusBroadcasts.Inc()
}
