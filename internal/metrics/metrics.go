// Package metrics provides Prometheus metrics for monitoring the control plane.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActionsTotal counts executed actions by kind and status.
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browser_actions_total",
			Help: "Total number of actions executed",
		},
		[]string{"kind", "status"},
	)

	// ActionDuration tracks action duration by kind.
	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "browser_action_duration_seconds",
			Help:    "Action execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~160s
		},
		[]string{"kind"},
	)

	// PoolSize shows the current number of browser instances.
	PoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browser_pool_size",
			Help: "Current number of browser instances in the pool",
		},
	)

	// PoolIdle shows idle browsers in the pool.
	PoolIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browser_pool_idle",
			Help: "Idle browsers in pool",
		},
	)

	// PoolQueueDepth shows waiters queued for a browser.
	PoolQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browser_pool_queue_depth",
			Help: "Callers waiting for a browser",
		},
	)

	// PoolAcquired counts total browser acquisitions.
	PoolAcquired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "browser_pool_acquired_total",
			Help: "Total browser acquisitions from pool",
		},
	)

	// PoolRecycled counts browser recycles by reason.
	PoolRecycled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browser_pool_recycled_total",
			Help: "Total browsers recycled by reason",
		},
		[]string{"reason"},
	)

	// PoolLaunchFailures counts failed browser launches.
	PoolLaunchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "browser_pool_launch_failures_total",
			Help: "Total browser launch failures",
		},
	)

	// PoolScaleEvents counts adaptive scaling decisions.
	PoolScaleEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browser_pool_scale_events_total",
			Help: "Total adaptive scaling events by direction",
		},
		[]string{"direction"},
	)

	// CircuitState shows circuit breaker state per key (0=closed, 1=open, 2=half_open).
	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"key"},
	)

	// ActiveSessions shows current active sessions.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_sessions",
			Help: "Number of active sessions",
		},
	)

	// ActivePages shows current managed pages.
	ActivePages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_pages",
			Help: "Number of managed pages",
		},
	)

	// AuthAttempts counts authentication attempts by method and outcome.
	AuthAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Authentication attempts by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	// WSConnections shows active WebSocket connections.
	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Active WebSocket connections",
		},
	)

	// AuditDropped counts audit events dropped due to queue overflow.
	AuditDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_events_dropped_total",
			Help: "Audit events dropped due to queue overflow",
		},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "goroutines",
			Help: "Current number of goroutines",
		},
	)

	// HTTPRequests counts HTTP requests by method and status class.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method and status",
		},
		[]string{"method", "status"},
	)

	// HTTPDuration observes HTTP request latency by method.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		ActionsTotal,
		ActionDuration,
		PoolSize,
		PoolIdle,
		PoolQueueDepth,
		PoolAcquired,
		PoolRecycled,
		PoolLaunchFailures,
		PoolScaleEvents,
		CircuitState,
		ActiveSessions,
		ActivePages,
		AuthAttempts,
		WSConnections,
		AuditDropped,
		HTTPRequests,
		HTTPDuration,
		MemoryUsageBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// SetBuildInfo records the build version labels.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMemoryCollector periodically samples runtime memory stats until
// stopCh is closed.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			MemoryUsageBytes.Set(float64(m.Alloc))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}
