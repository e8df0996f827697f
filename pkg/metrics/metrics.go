package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsAuthored counts accepted notifications by type and schedule (immediate|scheduled).
	NotificationsAuthored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pbxnotify_notifications_authored_total",
			Help: "Total number of notifications accepted from producers",
		},
		[]string{"type", "schedule"},
	)

	// DeliveriesMaterialized counts delivery rows written by fan-out.
	DeliveriesMaterialized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pbxnotify_deliveries_materialized_total",
			Help: "Total number of delivery rows created",
		},
	)

	// PreferenceSuppressions counts recipients dropped or muted by preferences (opt_out|quiet_hours).
	PreferenceSuppressions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pbxnotify_preference_suppressions_total",
			Help: "Recipients suppressed by delivery preferences",
		},
		[]string{"reason"},
	)

	// Promotions records scheduler promotion outcomes (won|lost|error).
	Promotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pbxnotify_promotions_total",
			Help: "Scheduled notification promotion attempts",
		},
		[]string{"result"},
	)

	// ChannelAttempts records out-of-band delivery attempts by channel and outcome.
	ChannelAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pbxnotify_channel_attempts_total",
			Help: "Channel delivery attempts",
		},
		[]string{"channel", "outcome"},
	)

	// Heartbeats counts polling heartbeats by result (active|unauthenticated).
	Heartbeats = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pbxnotify_heartbeats_total",
			Help: "Polling heartbeat requests",
		},
		[]string{"result"},
	)

	// PermissionChecks counts permission evaluations and their outcome (allowed|denied|error).
	PermissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pbxnotify_permission_checks_total",
			Help: "Total number of permission checks",
		},
		[]string{"permission", "result"},
	)

	// RateLimited counts requests rejected by the polling rate limiter.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pbxnotify_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"path"},
	)

	// SweepDuration measures background sweep runtimes by job name.
	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pbxnotify_sweep_duration_seconds",
			Help:    "Background sweep duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pbxnotify_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
