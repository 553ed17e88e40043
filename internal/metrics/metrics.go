// Package metrics provides Prometheus metrics for monitoring SURF.
package metrics

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts browser operations by type and status.
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surf_operations_total",
			Help: "Total number of browser operations processed",
		},
		[]string{"operation", "status"},
	)

	// OperationDuration tracks operation duration by type.
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "surf_operation_duration_seconds",
			Help:    "Browser operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
		},
		[]string{"operation"},
	)

	// BrowserContextsOpen shows currently open browser contexts.
	BrowserContextsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "surf_browser_contexts_open",
			Help: "Currently open incognito browser contexts",
		},
	)

	// BrowserContextsTotal counts contexts created over process lifetime.
	BrowserContextsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "surf_browser_contexts_created_total",
			Help: "Total incognito browser contexts created",
		},
	)

	// BrowserLaunches counts browser process launches and relaunches.
	BrowserLaunches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "surf_browser_launches_total",
			Help: "Total browser process launches, including relaunches",
		},
	)

	// ActiveSessions shows current active sessions.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "surf_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// SessionsCreated counts sessions created over process lifetime.
	SessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "surf_sessions_created_total",
			Help: "Total sessions created",
		},
	)

	// SessionsExpired counts sessions reaped for TTL or quota breaches.
	SessionsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "surf_sessions_expired_total",
			Help: "Total sessions expired by TTL or quota",
		},
	)

	// SiteMemoryRows shows the number of origins tracked in site memory.
	SiteMemoryRows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "surf_site_memory_rows",
			Help: "Origins currently tracked in the site memory store",
		},
	)

	// CaptchasDetected counts CAPTCHA and challenge detections by source.
	CaptchasDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surf_captchas_detected_total",
			Help: "Total CAPTCHA detections by source (text, selector)",
		},
		[]string{"source"},
	)

	// BlocksDetected counts rate-limit and access-denied block detections.
	BlocksDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surf_blocks_detected_total",
			Help: "Total block detections by category",
		},
		[]string{"category"},
	)

	// PacerDelaySeconds shows the pacer's current base delay.
	PacerDelaySeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "surf_pacer_delay_seconds",
			Help: "Current adaptive pacer base delay",
		},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "surf_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// MemorySysBytes shows system memory obtained.
	MemorySysBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "surf_memory_sys_bytes",
			Help: "Total memory obtained from system",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "surf_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "surf_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		OperationsTotal,
		OperationDuration,
		BrowserContextsOpen,
		BrowserContextsTotal,
		BrowserLaunches,
		ActiveSessions,
		SessionsCreated,
		SessionsExpired,
		SiteMemoryRows,
		CaptchasDetected,
		BlocksDetected,
		PacerDelaySeconds,
		MemoryUsageBytes,
		MemorySysBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector starts a goroutine that periodically updates memory metrics.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

// updateMemoryMetrics updates memory-related metrics.
func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	MemorySysBytes.Set(float64(m.Sys))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordOperation records metrics for a completed browser operation.
func RecordOperation(operation, status string, duration time.Duration) {
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCaptchaDetected records a CAPTCHA detection by source.
func RecordCaptchaDetected(source string) {
	CaptchasDetected.WithLabelValues(source).Inc()
}

// RecordBlockDetected records a rate-limit or access-denied block.
func RecordBlockDetected(category string) {
	BlocksDetected.WithLabelValues(category).Inc()
}

// UpdateBrowserMetrics updates browser context gauges from pool stats.
func UpdateBrowserMetrics(openContexts, contextsTotal, launches int64) {
	BrowserContextsOpen.Set(float64(openContexts))
	// Counters only move forward; callers feed monotonic pool totals.
	setCounterTo(BrowserContextsTotal, contextsTotal)
	setCounterTo(BrowserLaunches, launches)
}

// UpdateSessionMetrics updates the session count gauge.
func UpdateSessionMetrics(count int) {
	ActiveSessions.Set(float64(count))
}

// RecordSessionCreated records a new session admission.
func RecordSessionCreated() {
	SessionsCreated.Inc()
}

// RecordSessionExpired records a session reaped for TTL or quota reasons.
func RecordSessionExpired() {
	SessionsExpired.Inc()
}

// UpdateSiteMemoryRows updates the tracked-origins gauge.
func UpdateSiteMemoryRows(rows int64) {
	SiteMemoryRows.Set(float64(rows))
}

// UpdatePacerMetrics updates the pacer delay gauge.
func UpdatePacerMetrics(delay time.Duration) {
	PacerDelaySeconds.Set(delay.Seconds())
}

var (
	counterMu   sync.Mutex
	counterLast = make(map[prometheus.Counter]int64)
)

// setCounterTo advances a counter to a monotonic total sampled elsewhere.
func setCounterTo(c prometheus.Counter, total int64) {
	counterMu.Lock()
	defer counterMu.Unlock()
	if d := total - counterLast[c]; d > 0 {
		c.Add(float64(d))
		counterLast[c] = total
	}
}
