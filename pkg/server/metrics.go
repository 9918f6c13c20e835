package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	metricConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "securechat_connections_total",
			Help: "Total accepted connections",
		},
	)

	metricActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "securechat_active_sessions",
			Help: "Currently live sessions",
		},
	)

	// Message metrics
	metricMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securechat_messages_received_total",
			Help: "Total envelopes received from clients",
		},
		[]string{"type"},
	)

	metricMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securechat_messages_sent_total",
			Help: "Total envelopes sent to clients",
		},
		[]string{"type"},
	)

	metricBroadcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "securechat_broadcasts_total",
			Help: "Total broadcast sweeps",
		},
	)

	metricBroadcastRecipients = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "securechat_broadcast_recipients",
			Help:    "Recipients per broadcast sweep",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// Failure metrics
	metricAuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securechat_auth_failures_total",
			Help: "Total rejected authentication attempts",
		},
		[]string{"reason"},
	)

	metricTransportErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "securechat_transport_errors_total",
			Help: "Total connection-fatal transport errors",
		},
	)
)
