// Package metrics provides Prometheus metrics collection for the livechat service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery result label values
const (
	DeliveryDelivered = "delivered"
	DeliveryOffline   = "offline"
	DeliveryPartial   = "partial"
	DeliveryFailed    = "failed"
)

var (
	// WebSocketConnections tracks the current number of admitted WebSocket connections
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livechat_websocket_connections",
		Help: "Current number of admitted WebSocket connections",
	})

	// OnlineUsers tracks the number of users with at least one live connection
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livechat_online_users",
		Help: "Current number of users with at least one live connection",
	})

	// AuthRefusals counts refused connection attempts by refusal code
	AuthRefusals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livechat_auth_refusals_total",
		Help: "Total number of refused connection attempts by refusal code",
	}, []string{"code"})

	// AuthDuration tracks how long connection authentication takes
	AuthDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livechat_auth_duration_seconds",
		Help:    "Duration of connection authentication in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// PresenceBroadcasts counts presence snapshots fanned out after registry mutations
	PresenceBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livechat_presence_broadcasts_total",
		Help: "Total number of presence snapshots broadcast",
	})

	// BroadcastDrops counts per-recipient presence pushes that could not be enqueued
	BroadcastDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livechat_presence_broadcast_drops_total",
		Help: "Total number of presence pushes dropped for a single recipient",
	})

	// RegistrySelfHeals counts empty presence entries found and removed
	RegistrySelfHeals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livechat_registry_self_heals_total",
		Help: "Total number of empty presence entries removed on detection",
	})

	// MirrorErrors counts failed presence mirror writes
	MirrorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livechat_presence_mirror_errors_total",
		Help: "Total number of failed presence mirror writes",
	})

	// Deliveries counts message router invocations by result
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livechat_deliveries_total",
		Help: "Total number of message deliveries by result",
	}, []string{"result"})

	// MessagesSent tracks the total number of frames written to clients
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livechat_frames_sent_total",
		Help: "Total number of frames written to clients",
	})

	// MessagesReceived tracks the total number of frames read from clients
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livechat_frames_received_total",
		Help: "Total number of frames read from clients",
	})

	// MessageErrors tracks the total number of frame processing errors and recovered panics
	MessageErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livechat_message_errors_total",
		Help: "Total number of frame processing errors",
	})

	// BusDeliveries counts deliveries published to or received from the cross-node bus
	BusDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livechat_bus_deliveries_total",
		Help: "Total number of cross-node deliveries by direction",
	}, []string{"direction"})

	// HTTPRequestDuration tracks HTTP request latency by endpoint and method
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livechat_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "method"})
)
