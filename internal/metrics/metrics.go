package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandmill_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brandmill_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Generation Metrics
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandmill_generations_total",
			Help: "Total number of generation dispatches",
		},
		[]string{"category", "engine", "status"},
	)

	GenerationFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandmill_generation_fallbacks_total",
			Help: "Total number of generations served by the keyless fallback",
		},
		[]string{"category"},
	)

	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brandmill_provider_call_duration_seconds",
			Help:    "Provider adapter call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		},
		[]string{"provider", "category"},
	)

	// Quota Metrics
	QuotaRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandmill_quota_rejections_total",
			Help: "Total number of generation requests rejected at the quota gate",
		},
		[]string{"kind"},
	)

	// Credit Metrics
	CreditsDebitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandmill_credits_debited_total",
			Help: "Total credits debited for metered generations",
		},
		[]string{"engine", "tier"},
	)

	// Usage Archive Metrics
	UsageEventsPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "brandmill_usage_events_published_total",
			Help: "Total usage events published to the archive queue",
		},
	)

	UsageEventsArchivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandmill_usage_events_archived_total",
			Help: "Total usage events archived by the worker",
		},
		[]string{"status"},
	)

	// Webhook Metrics
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandmill_webhook_deliveries_total",
			Help: "Total webhook delivery attempts",
		},
		[]string{"status"},
	)

	// Asset Mirror Metrics
	AssetsMirroredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandmill_assets_mirrored_total",
			Help: "Total generated assets mirrored to object storage",
		},
		[]string{"status"},
	)
)
