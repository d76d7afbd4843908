// Package metrics defines the Prometheus instrumentation for the AlpacaLotto
// backend. Collectors are registered with the default registry and served by
// promhttp at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP layer

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alpacalotto",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests by route and status",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "alpacalotto",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request processing duration",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "alpacalotto",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "HTTP requests currently being served",
	})

	RateLimitedRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alpacalotto",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Total requests rejected by the per-client rate limiter",
	})

	// Redis cache

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alpacalotto",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits by entity",
	}, []string{"entity"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alpacalotto",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses by entity",
	}, []string{"entity"})

	// Contract / RPC upstream

	UpstreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alpacalotto",
		Subsystem: "upstream",
		Name:      "failures_total",
		Help:      "Total upstream read failures by operation",
	}, []string{"operation"})

	MockFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alpacalotto",
		Subsystem: "upstream",
		Name:      "mock_fallbacks_total",
		Help:      "Total reads served from mock data after a primary failure",
	}, []string{"operation"})

	BudgetDenials = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alpacalotto",
		Subsystem: "upstream",
		Name:      "budget_denials_total",
		Help:      "Total reads denied because the RPC call budget was spent",
	})

	// Purchases

	PurchasesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alpacalotto",
		Subsystem: "purchase",
		Name:      "recorded_total",
		Help:      "Total ticket purchases recorded",
	})

	TicketsSold = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alpacalotto",
		Subsystem: "purchase",
		Name:      "tickets_total",
		Help:      "Total tickets sold across recorded purchases",
	})

	// Session keys

	SessionKeysCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alpacalotto",
		Subsystem: "session",
		Name:      "keys_created_total",
		Help:      "Total session keys created",
	})

	SessionKeysRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alpacalotto",
		Subsystem: "session",
		Name:      "keys_revoked_total",
		Help:      "Total session keys revoked",
	})

	ActiveSessionKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "alpacalotto",
		Subsystem: "session",
		Name:      "active_keys",
		Help:      "Session keys currently active, refreshed by the sweeper",
	})

	// WebSocket hub

	WSConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "alpacalotto",
		Subsystem: "ws",
		Name:      "connected_clients",
		Help:      "WebSocket clients currently registered with the hub",
	})

	WSEventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alpacalotto",
		Subsystem: "ws",
		Name:      "events_published_total",
		Help:      "Total events broadcast to WebSocket clients by type",
	}, []string{"type"})

	// Draw watcher

	WatcherPolls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alpacalotto",
		Subsystem: "watcher",
		Name:      "polls_total",
		Help:      "Total draw watcher poll cycles",
	})

	WatcherPollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alpacalotto",
		Subsystem: "watcher",
		Name:      "poll_errors_total",
		Help:      "Total draw watcher poll cycles that failed",
	})

	WatcherDrawsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alpacalotto",
		Subsystem: "watcher",
		Name:      "draws_detected_total",
		Help:      "Total lottery status transitions observed by the watcher",
	})
)
