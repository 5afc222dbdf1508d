package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engage_actions_total",
			Help: "Total executed actions by kind and outcome status",
		},
		[]string{"kind", "status"},
	)
	PlatformCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engage_platform_call_duration_seconds",
			Help:    "Platform API call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"operation"},
	)
	ScanPostsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engage_scan_posts_total",
			Help: "Posts seen by the scanner, by disposition (surviving vs filter reason)",
		},
		[]string{"disposition"},
	)
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engage_queue_depth",
			Help: "Pending planned actions per account",
		},
		[]string{"account_id"},
	)
	QuotaUsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engage_quota_used",
			Help: "Consumed quota units by scope (global, daily)",
		},
		[]string{"scope"},
	)
	MutesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engage_mutes_total",
			Help: "Mutes applied by reason",
		},
		[]string{"reason"},
	)
	TokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engage_token_refresh_total",
			Help: "Credential refresh attempts by result",
		},
		[]string{"result"},
	)
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engage_supervisor_ticks_total",
			Help: "Completed scan/plan/schedule cycles",
		},
	)
)

// InitMetrics registers all engine metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(
		ActionsTotal,
		PlatformCallDuration,
		ScanPostsTotal,
		QueueDepth,
		QuotaUsed,
		MutesTotal,
		TokenRefreshTotal,
		TicksTotal,
	)
}
