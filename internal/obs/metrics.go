package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

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

	authEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_events_total",
			Help: "Terminal outcomes of auth flows by action.",
		},
		[]string{"action"},
	)

	storeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvstore_errors_total",
			Help: "Key-value store failures by component.",
		},
		[]string{"component"},
	)

	auditFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Audit entries that could not be written to the durable sink.",
	})

	rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Requests rejected by a rate limiter.",
		},
		[]string{"limiter"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when dependencies answered the last readiness probe.",
	})
)

// Init registers the collectors in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authEventsTotal, storeErrorsTotal, auditFailuresTotal,
			rateLimitedTotal, readyGauge,
		)
	})
}

// Handler exposes Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AuthEvent counts a terminal auth outcome.
func AuthEvent(action string) {
	authEventsTotal.WithLabelValues(action).Inc()
}

// StoreError counts a store failure observed by component.
func StoreError(component string) {
	storeErrorsTotal.WithLabelValues(component).Inc()
}

// AuditFailure counts an audit entry that failed to persist.
func AuditFailure() {
	auditFailuresTotal.Inc()
}

// RateLimited counts a rejection by the named limiter.
func RateLimited(limiter string) {
	rateLimitedTotal.WithLabelValues(limiter).Inc()
}

// SetReady records the outcome of the last readiness probe.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

var knownPaths = map[string]struct{}{
	"/":                           {},
	"/metrics":                    {},
	"/healthz":                    {},
	"/readyz":                     {},
	"/v1/auth/register":           {},
	"/v1/auth/register/resend":    {},
	"/v1/auth/register/complete":  {},
	"/v1/auth/verify-email":       {},
	"/v1/auth/username-available": {},
	"/v1/auth/login":              {},
	"/v1/auth/refresh":            {},
	"/v1/auth/logout":             {},
	"/v1/accounts/me":             {},
}

// CanonicalPath bounds label cardinality: query strings are dropped and
// unknown paths collapse into a single bucket.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if _, ok := knownPaths[path]; ok {
		return path
	}
	return "other"
}

// Instrument records RPS, latency and in-flight gauges.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
