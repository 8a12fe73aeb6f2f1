// Package metrics exposes Prometheus instrumentation for requests, queries and
// payment operations. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clubdues"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	queryDuration   *prometheus.HistogramVec
	statusChanges   *prometheus.CounterVec
	scheduleRows    prometheus.Histogram
	remindersSent   *prometheus.CounterVec
}

// New creates and registers all collectors.
// POST: Returns a Metrics whose Handler serves the registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database call latency by operation.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_status_changes_total",
			Help:      "Payment status mutations by new status, subject type and outcome.",
		}, []string{"status", "subject_type", "outcome"}),
		scheduleRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "schedule_rows",
			Help:      "Rows returned per schedule query after filtering.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		remindersSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_reminders_total",
			Help:      "Delinquency reminder emails by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestDuration,
		m.queryDuration,
		m.statusChanges,
		m.scheduleRows,
		m.remindersSent,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry (used by tests to gather values).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one HTTP request. pattern is the ServeMux pattern the
// request matched (http.Request.Pattern), empty when nothing matched.
func (m *Metrics) ObserveRequest(method, pattern string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(MethodLabel(method), RouteLabel(pattern), strconv.Itoa(status)).Observe(d.Seconds())
}

// ObserveQuery records one database call.
func (m *Metrics) ObserveQuery(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(op).Observe(d.Seconds())
}

// StatusChanged counts a status mutation attempt. outcome is "ok" or an error class.
func (m *Metrics) StatusChanged(status, subjectType, outcome string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status, subjectType, outcome).Inc()
}

// ScheduleServed records the row count of a schedule response.
func (m *Metrics) ScheduleServed(rows int) {
	if m == nil {
		return
	}
	m.scheduleRows.Observe(float64(rows))
}

// ReminderSent counts a reminder email by outcome ("sent", "failed", "skipped").
func (m *Metrics) ReminderSent(outcome string) {
	if m == nil {
		return
	}
	m.remindersSent.WithLabelValues(outcome).Inc()
}

// UnmatchedRoute labels requests that matched no registered pattern.
const UnmatchedRoute = "unmatched"

// RouteLabel turns a ServeMux pattern into a route label so the request
// histogram has one series per registered route, whatever the client sends.
// "GET /api/sessions/{sessionId}/payments/status" → "/api/sessions/{sessionId}/payments/status"
// "" → UnmatchedRoute
func RouteLabel(pattern string) string {
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		pattern = strings.TrimSpace(pattern[i+1:])
	}
	if pattern == "" {
		return UnmatchedRoute
	}
	return pattern
}

// MethodLabel keeps standard HTTP methods and folds anything else into "other".
func MethodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return method
	}
	return "other"
}
