package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Invocation flow
	// ============================================
	InvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emcp_invocations_total",
			Help: "Total number of tool invocation flows by outcome",
		},
		[]string{"outcome"}, // success | <error kind>
	)

	InvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "emcp_invocation_duration_seconds",
			Help:    "End-to-end invocation flow duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"paid"},
	)

	PaymentChallenges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emcp_payment_challenges_total",
		Help: "Total number of HTTP 402 payment challenges received",
	})

	PaymentConfirmations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emcp_payment_confirmations_total",
			Help: "Payment confirmation decisions",
		},
		[]string{"decision"}, // approved | declined
	)

	// ============================================
	// Wallet
	// ============================================
	WalletPayments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emcp_wallet_payments_total",
			Help: "Total number of wallet payments by result",
		},
		[]string{"network", "result"},
	)

	WalletPaymentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "emcp_wallet_payment_duration_seconds",
			Help:    "Wallet payment duration in seconds, including receipt wait when enabled",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"network"},
	)

	WalletBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "emcp_wallet_balance_wei",
			Help: "Payer balance in wei observed before the last payment",
		},
		[]string{"network", "address"},
	)

	// ============================================
	// NATS connection and event publishing
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "emcp_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emcp_nats_messages_published_total",
			Help: "Total number of payment events published to NATS",
		},
		[]string{"event_type"},
	)

	NATSMessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emcp_nats_messages_failed_total",
			Help: "Total number of payment events that failed to publish",
		},
		[]string{"event_type"},
	)

	// ============================================
	// UI bridge
	// ============================================
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "emcp_websocket_connections",
		Help: "Number of connected UI websocket clients",
	})

	UIActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emcp_ui_actions_total",
			Help: "UI click and submit actions dispatched by the bridge",
		},
		[]string{"kind", "name", "status"},
	)
)
