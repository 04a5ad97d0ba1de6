package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	guardDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_decisions_total",
			Help: "Route guard authorization decisions by branch and outcome.",
		},
		[]string{"branch", "outcome"},
	)

	auditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Audit log writes that failed and were swallowed.",
	})

	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "login_attempts_total",
			Help: "Authentication attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

// Init registers all service metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		guardDecisions,
		auditWriteFailures,
		loginAttempts,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GuardDecision records one route guard outcome. Branch names the guard
// rule that matched, outcome is "allow", "deny" or "redirect".
func GuardDecision(branch, outcome string) {
	guardDecisions.WithLabelValues(branch, outcome).Inc()
}

// AuditWriteFailure counts a swallowed audit persistence error.
func AuditWriteFailure() {
	auditWriteFailures.Inc()
}

// LoginAttempt records an authentication outcome ("success", "invalid_credentials", "locked").
func LoginAttempt(outcome string) {
	loginAttempts.WithLabelValues(outcome).Inc()
}

// CanonicalPath collapses identifier segments so metric labels stay low
// cardinality. Query strings are stripped.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	for _, prefix := range []string{"/api/patients/", "/api/sessions/", "/api/departments/", "/api/users/"} {
		if rest, ok := strings.CutPrefix(path, prefix); ok {
			if rest == "" || strings.Contains(rest, "/") {
				return path
			}
			return prefix + ":id"
		}
	}
	return path
}

// Instrument wraps a handler with request counting, latency and in-flight
// tracking.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
