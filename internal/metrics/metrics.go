// Package metrics provides Prometheus instrumentation for the risk decisioning core.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskcore",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskcore",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ChecksTotal counts completed risk checks by kind and decision.
	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskcore",
			Name:      "checks_total",
			Help:      "Total risk checks completed by kind (fraud, credit) and decision.",
		},
		[]string{"kind", "decision"},
	)

	// CheckDuration observes end-to-end check latency by kind.
	CheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskcore",
			Name:      "check_duration_seconds",
			Help:      "End-to-end risk check duration in seconds, provider call included.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"kind"},
	)

	// ProviderCallsTotal counts external provider calls by provider and result.
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskcore",
			Name:      "provider_calls_total",
			Help:      "Total external provider calls by provider name and result.",
		},
		[]string{"provider", "result"},
	)

	// ProviderFallbacksTotal counts sandbox fallbacks by provider.
	ProviderFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskcore",
			Name:      "provider_fallbacks_total",
			Help:      "Total sandbox fallbacks taken after a provider failure.",
		},
		[]string{"provider"},
	)

	// TasksProcessedTotal counts queue tasks by type and outcome.
	TasksProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskcore",
			Name:      "tasks_processed_total",
			Help:      "Total queue tasks processed by task type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	// TasksDeadLetteredTotal counts tasks that exhausted their retries.
	TasksDeadLetteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskcore",
			Name:      "tasks_dead_lettered_total",
			Help:      "Total tasks dead-lettered after retry exhaustion.",
		},
		[]string{"type"},
	)

	// QueueDepth tracks tasks currently waiting for a worker.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "riskcore",
			Name:      "queue_depth",
			Help:      "Number of tasks currently queued.",
		},
	)

	// AuditWriteFailuresTotal counts audit log writes that failed.
	// Audit failures never block a decision, so this is the only place they surface.
	AuditWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "riskcore",
			Name:      "audit_write_failures_total",
			Help:      "Total audit record writes that failed and were dropped.",
		},
	)

	// NotificationsTotal counts outbound subject notifications by result.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskcore",
			Name:      "notifications_total",
			Help:      "Total subject notifications by result.",
		},
		[]string{"result"},
	)

	// ActiveFeedClients tracks connected decision-feed WebSocket clients.
	ActiveFeedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "riskcore",
			Name:      "active_feed_clients",
			Help:      "Number of currently connected decision feed clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskcore", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskcore", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskcore", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskcore", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ChecksTotal,
		CheckDuration,
		ProviderCallsTotal,
		ProviderFallbacksTotal,
		TasksProcessedTotal,
		TasksDeadLetteredTotal,
		QueueDepth,
		AuditWriteFailuresTotal,
		NotificationsTotal,
		ActiveFeedClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
