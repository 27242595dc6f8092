package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "admin_core",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "admin_core",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "admin_core",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "admin_core",
			Subsystem: "transitions",
			Name:      "requests_total",
			Help:      "Total number of requested state transitions.",
		},
		[]string{"resource", "target", "outcome"},
	)

	gateEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "admin_core",
			Subsystem: "gate",
			Name:      "evaluations_total",
			Help:      "Total number of gate evaluations.",
		},
		[]string{"ready"},
	)

	cascadeFanOuts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "admin_core",
			Subsystem: "cascade",
			Name:      "fanout_children_total",
			Help:      "Total number of per-building fan-out dispatches.",
		},
		[]string{"outcome"},
	)

	cascadeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "admin_core",
			Subsystem: "cascade",
			Name:      "fanout_duration_seconds",
			Help:      "Duration of whole-tenant fan-out passes.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	reconcilerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "admin_core",
			Subsystem: "reconciler",
			Name:      "runs_total",
			Help:      "Total number of reconciliation passes per request.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		transitions,
		gateEvaluations,
		cascadeFanOuts,
		cascadeDuration,
		reconcilerRuns,
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

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordTransition records the outcome of one transition request.
func RecordTransition(resource, target, outcome string) {
	transitions.WithLabelValues(resource, target, outcome).Inc()
}

// RecordGateEvaluation records one gate evaluation.
func RecordGateEvaluation(ready bool) {
	gateEvaluations.WithLabelValues(strconv.FormatBool(ready)).Inc()
}

// RecordCascadeChild records the outcome of one per-building dispatch.
func RecordCascadeChild(outcome string) {
	cascadeFanOuts.WithLabelValues(outcome).Inc()
}

// RecordCascadePass records the duration of a whole-tenant fan-out pass.
func RecordCascadePass(duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	cascadeDuration.Observe(duration.Seconds())
}

// RecordReconcilerRun records one reconciliation pass for a request.
func RecordReconcilerRun(outcome string) {
	reconcilerRuns.WithLabelValues(outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "deletion-requests":
		if len(parts) == 1 {
			return "/deletion-requests"
		}
		if len(parts) == 2 {
			return "/deletion-requests/:id"
		}
		return "/deletion-requests/:id/" + parts[2]
	case "buildings":
		if len(parts) >= 3 {
			return "/buildings/:id/" + parts[2]
		}
		return "/buildings/:id"
	case "tenants":
		if len(parts) >= 3 {
			return "/tenants/:id/" + parts[2]
		}
		return "/tenants/:id"
	default:
		return "/" + parts[0]
	}
}
