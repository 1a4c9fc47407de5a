package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request handling time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	wsActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Number of open signaling websocket connections",
		},
	)

	activeRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signaling_active_rooms",
			Help: "Number of rooms with at least one participant",
		},
	)

	relayedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_relayed_messages_total",
			Help: "Messages forwarded between room participants",
		},
		[]string{"type"},
	)

	rejectedJoins = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signaling_rejected_joins_total",
			Help: "Join attempts rejected because the room was full",
		},
	)
)

func IncWSActiveConnections() { wsActiveConnections.Inc() }

func DecWSActiveConnections() { wsActiveConnections.Dec() }

func SetActiveRooms(n int) { activeRooms.Set(float64(n)) }

func IncRelayedMessages(msgType string) { relayedMessages.WithLabelValues(msgType).Inc() }

func IncRejectedJoins() { rejectedJoins.Inc() }

func RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
