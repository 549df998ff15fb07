package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "draw_auditor"

// Audit outcomes.
const (
	OutcomeVerified   = "verified"
	OutcomeUnverified = "unverified"
	OutcomeError      = "error"
)

var (
	// Registry holds the auditor's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	audits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "draws_total",
			Help:      "Draw audits by draw type and outcome.",
		},
		[]string{"draw_type", "outcome"},
	)

	auditDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "duration_seconds",
			Help:      "Duration of a full draw audit including upstream fetches.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	commitMismatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "commit_mismatches_total",
			Help:      "Draws whose revealed secret did not match the operator commit.",
		},
	)

	findings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "findings_total",
			Help:      "Audit findings by code.",
		},
		[]string{"code"},
	)

	inclusionChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merkle",
			Name:      "inclusion_checks_total",
			Help:      "Merkle inclusion checks by result.",
		},
		[]string{"included"},
	)

	projections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "odds",
			Name:      "projections_total",
			Help:      "Odds projections computed.",
		},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Projection cache lookups by result.",
		},
		[]string{"result"},
	)

	expiredDraws = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "expired_draws_in_window",
			Help:      "Recent draws that expired, or passed their reveal deadline, without a reveal.",
		},
	)

	upstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Requests to chain, drand and snapshot sources.",
		},
		[]string{"source", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		audits,
		auditDuration,
		commitMismatches,
		findings,
		inclusionChecks,
		projections,
		cacheLookups,
		expiredDraws,
		upstreamRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordAudit records one finished audit.
func RecordAudit(drawType, outcome string, duration time.Duration) {
	if drawType == "" {
		drawType = "unknown"
	}
	audits.WithLabelValues(drawType, outcome).Inc()
	if duration > 0 {
		auditDuration.Observe(duration.Seconds())
	}
}

// RecordCommitMismatch counts a revealed secret that failed its commitment.
func RecordCommitMismatch() {
	commitMismatches.Inc()
}

// RecordFinding counts one audit finding.
func RecordFinding(code string) {
	findings.WithLabelValues(code).Inc()
}

// RecordInclusionCheck counts a Merkle inclusion check.
func RecordInclusionCheck(included bool) {
	inclusionChecks.WithLabelValues(strconv.FormatBool(included)).Inc()
}

// RecordProjection counts a computed odds projection.
func RecordProjection() {
	projections.Inc()
}

// RecordCacheLookup counts a projection cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

// SetExpiredDraws reports how many recent draws expired or lapsed unrevealed.
func SetExpiredDraws(n int) {
	expiredDraws.Set(float64(n))
}

// RecordUpstream counts a request to an upstream source.
func RecordUpstream(source string, success bool) {
	upstreamRequests.WithLabelValues(source, strconv.FormatBool(success)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath collapses IDs so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch {
	case parts[0] == "draws" && len(parts) >= 2:
		parts[1] = ":id"
	case parts[0] == "audits" && len(parts) >= 2:
		parts[1] = ":id"
	}
	return "/" + strings.Join(parts, "/")
}
