package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/events"
)

// Metrics exposes monitor counters and gauges to Prometheus.
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal    *prometheus.CounterVec
	chatTotal      prometheus.Counter
	protocolErrors prometheus.Counter
	lobbies        prometheus.Gauge
	reconnects     prometheus.Counter
	connState      *prometheus.GaugeVec
}

// NewMetrics creates and registers the metric set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bzmonitor",
			Name:      "events_total",
			Help:      "Domain events emitted, by type.",
		}, []string{"type"}),
		chatTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bzmonitor",
			Name:      "chat_messages_total",
			Help:      "Chat messages observed in monitored lobbies.",
		}),
		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bzmonitor",
			Name:      "protocol_errors_total",
			Help:      "Frames dropped due to decode failures or invalid updates.",
		}),
		lobbies: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bzmonitor",
			Name:      "lobbies",
			Help:      "Lobbies currently tracked in the world model.",
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bzmonitor",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts started by the session supervisor.",
		}),
		connState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bzmonitor",
			Name:      "connection_state",
			Help:      "Session connection state, 1 for the current state.",
		}, []string{"state"}),
	}
}

// Observe wires the metrics to the event bus.
func (m *Metrics) Observe(bus *events.EventBus) {
	bus.Subscribe(events.EventAny, "metrics.all", func(ctx context.Context, event events.Event) error {
		m.eventsTotal.WithLabelValues(string(event.Type)).Inc()

		switch p := event.Payload.(type) {
		case events.ChatReceivedPayload:
			m.chatTotal.Inc()
		case events.ProtocolErrorPayload:
			m.protocolErrors.Inc()
		case events.LobbyListChangedPayload:
			m.lobbies.Set(float64(p.Total))
		case events.ConnectionStateChangedPayload:
			m.connState.Reset()
			m.connState.WithLabelValues(p.State).Set(1)
			if p.State == "reconnecting" {
				m.reconnects.Inc()
			}
		}
		return nil
	})
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
