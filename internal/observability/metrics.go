// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Calculation metrics
	Calculations        *prometheus.CounterVec
	CalculationDuration prometheus.Histogram
	UpdatesPersisted    *prometheus.CounterVec

	// Watchlist metrics
	AlarmsTriggered      *prometheus.CounterVec
	SyncMerges           *prometheus.CounterVec
	NotificationFailures prometheus.Counter

	// HTTP metrics
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	UpstreamRetries *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "botdash"
	}
	f := promauto.With(reg)

	return &Metrics{
		Calculations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calc",
			Name:      "calculations_total",
			Help:      "Total number of metric calculations by outcome category",
		}, []string{"outcome"}),
		CalculationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "calc",
			Name:      "calculation_duration_seconds",
			Help:      "Time spent in one metrics calculation",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}),
		UpdatesPersisted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "updates_persisted_total",
			Help:      "Total number of update records appended, by status",
		}, []string{"status"}),

		AlarmsTriggered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchlist",
			Name:      "alarms_triggered_total",
			Help:      "Total number of threshold alarms by direction",
		}, []string{"direction"}),
		SyncMerges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchlist",
			Name:      "sync_merges_total",
			Help:      "Total number of snapshot merges by source",
		}, []string{"source"}),
		NotificationFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchlist",
			Name:      "notification_failures_total",
			Help:      "Total number of alarm notifications that could not be delivered",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		UpstreamRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Total number of retried outbound calls by upstream",
		}, []string{"upstream"}),
	}
}

var (
	mu             sync.RWMutex
	registry       = newRegistry()
	DefaultMetrics = NewMetrics("", registry)
)

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Init replaces the default metrics with a fresh set under namespace.
// Call it once at startup, before serving.
func Init(namespace string) {
	reg := newRegistry()
	m := NewMetrics(namespace, reg)
	mu.Lock()
	registry, DefaultMetrics = reg, m
	mu.Unlock()
}

func current() *Metrics {
	mu.RLock()
	defer mu.RUnlock()
	return DefaultMetrics
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	mu.RLock()
	reg := registry
	mu.RUnlock()
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RecordCalculation records one calculation and its outcome category ("ok" on success).
func RecordCalculation(outcome string, seconds float64) {
	m := current()
	m.Calculations.WithLabelValues(outcome).Inc()
	m.CalculationDuration.Observe(seconds)
}

// RecordUpdatePersisted increments the appended-updates counter.
func RecordUpdatePersisted(status string) {
	current().UpdatesPersisted.WithLabelValues(status).Inc()
}

// RecordAlarm increments the alarm counter.
func RecordAlarm(direction string) {
	current().AlarmsTriggered.WithLabelValues(direction).Inc()
}

// RecordSyncMerge increments the merge counter for source (pull, device, file).
func RecordSyncMerge(source string) {
	current().SyncMerges.WithLabelValues(source).Inc()
}

// RecordNotificationFailure increments the failed-notification counter.
func RecordNotificationFailure() {
	current().NotificationFailures.Inc()
}

// RecordHTTPRequest records an API request.
func RecordHTTPRequest(route string, code int, seconds float64) {
	m := current()
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(seconds)
}

// RecordUpstreamRetry counts one retried outbound call.
func RecordUpstreamRetry(upstream string) {
	current().UpstreamRetries.WithLabelValues(upstream).Inc()
}
