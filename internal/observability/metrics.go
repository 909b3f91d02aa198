package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Metrics holds the Prometheus instruments of the engine and its transport.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	TransitionsTotal      *prometheus.CounterVec
	ValidationFailures    *prometheus.CounterVec
	ValidatorErrorsTotal  prometheus.Counter
	PermissionDenials     *prometheus.CounterVec
	ConflictsTotal        *prometheus.CounterVec
	ChecklistUpdatesTotal *prometheus.CounterVec
	TrashDeletesTotal     *prometheus.CounterVec
	TrashRestoresTotal    *prometheus.CounterVec
	TrashPurgedTotal      prometheus.Counter
	RestoreSkippedTotal   *prometheus.CounterVec
	NotificationFailures  *prometheus.CounterVec
}

// InitMetrics creates and registers all instruments on reg.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "processline_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "processline_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "processline_transitions_total",
			Help: "Committed workflow transitions by kind.",
		}, []string{"kind"}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "processline_validation_failures_total",
			Help: "Advances blocked by unmet requirements, by department.",
		}, []string{"department"}),
		ValidatorErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "processline_validator_errors_total",
			Help: "Validator failures that let the transition proceed.",
		}),
		PermissionDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "processline_permission_denials_total",
			Help: "Rejected operations by operation name.",
		}, []string{"operation"}),
		ConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "processline_version_conflicts_total",
			Help: "Optimistic concurrency conflicts by operation name.",
		}, []string{"operation"}),
		ChecklistUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "processline_checklist_updates_total",
			Help: "Checklist sign-off changes by outcome.",
		}, []string{"outcome"}),
		TrashDeletesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "processline_trash_deletes_total",
			Help: "Soft deletions by kind.",
		}, []string{"kind"}),
		TrashRestoresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "processline_trash_restores_total",
			Help: "Restores by kind.",
		}, []string{"kind"}),
		TrashPurgedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "processline_trash_purged_total",
			Help: "Trash items removed permanently by the expiry sweep.",
		}),
		RestoreSkippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "processline_restore_skipped_total",
			Help: "Dependent rows skipped during restore, by entity.",
		}, []string{"entity"}),
		NotificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "processline_notification_failures_total",
			Help: "Notification deliveries that failed, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.HTTPRequestsTotal, m.HTTPRequestDuration,
		m.TransitionsTotal, m.ValidationFailures, m.ValidatorErrorsTotal, m.PermissionDenials, m.ConflictsTotal,
		m.ChecklistUpdatesTotal, m.TrashDeletesTotal, m.TrashRestoresTotal, m.TrashPurgedTotal, m.RestoreSkippedTotal,
		m.NotificationFailures,
	)
	return m
}

func (m *Metrics) RecordTransition(kind string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordValidationFailure(department string) {
	if m == nil {
		return
	}
	m.ValidationFailures.WithLabelValues(department).Inc()
}

func (m *Metrics) RecordValidatorError() {
	if m == nil {
		return
	}
	m.ValidatorErrorsTotal.Inc()
}

func (m *Metrics) RecordPermissionDenied(operation string) {
	if m == nil {
		return
	}
	m.PermissionDenials.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordConflict(operation string) {
	if m == nil {
		return
	}
	m.ConflictsTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordChecklistUpdate(outcome string) {
	if m == nil {
		return
	}
	m.ChecklistUpdatesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordTrashDelete(kind string) {
	if m == nil {
		return
	}
	m.TrashDeletesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordRestore(kind string, skipped map[string]int) {
	if m == nil {
		return
	}
	m.TrashRestoresTotal.WithLabelValues(kind).Inc()
	for entity, n := range skipped {
		m.RestoreSkippedTotal.WithLabelValues(entity).Add(float64(n))
	}
}

func (m *Metrics) RecordPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.TrashPurgedTotal.Add(float64(n))
}

func (m *Metrics) RecordNotificationFailure(kind string) {
	if m == nil {
		return
	}
	m.NotificationFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// MetricsMiddleware records request metrics labelled with chi's route pattern
// rather than the raw path.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler serves the registry at /metrics.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.TrimSuffix(strings.Join(rctx.RoutePatterns, ""), "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}
