package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	ActiveConnections  prometheus.Gauge
	SessionEvents      *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec
	RejectedMutations  *prometheus.CounterVec
	BroadcastDrops     prometheus.Counter
	BroadcastFanout    prometheus.Histogram
	BackplaneMessages  *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live collaboration sessions.",
		}),
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of websocket connections bound to a room.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		RejectedMutations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_mutations_total",
			Help:      "Mutations rejected by the permission check, by action.",
		}, []string{"action"}),
		BroadcastDrops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_drops_total",
			Help:      "Subscribers detached because their send buffer filled.",
		}),
		BroadcastFanout: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_fanout",
			Help:      "Recipients per broadcast event.",
			Buckets:   []float64{1, 2, 3, 5, 8, 12, 20, 50},
		}),
		BackplaneMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backplane_messages_total",
			Help:      "Cross-instance backplane messages by direction.",
		}, []string{"direction"}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
