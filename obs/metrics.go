package obs

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	appInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "docbridge",
			Subsystem: "app",
			Name:      "info",
			Help:      "Static app info for deployment verification.",
		},
		[]string{"service", "version"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docbridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the metrics listener.",
		},
		[]string{"method", "route", "code"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docbridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	fetchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docbridge",
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "Outgoing requests to the remote service by outcome.",
		},
		[]string{"op", "result"},
	)
	fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docbridge",
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Outgoing request latency in seconds, body included.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"op"},
	)

	submitAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docbridge",
			Subsystem: "submit",
			Name:      "attempts_total",
			Help:      "Upload attempts by result.",
		},
		[]string{"result"},
	)

	pollAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docbridge",
			Subsystem: "poll",
			Name:      "attempts_total",
			Help:      "Status poll attempts by result.",
		},
		[]string{"result"},
	)
	pollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docbridge",
			Subsystem: "poll",
			Name:      "duration_seconds",
			Help:      "Time from the first poll attempt to the final outcome.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 240, 480, 960},
		},
		[]string{"outcome"},
	)

	chatTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docbridge",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Chat turns by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		appInfo,
		httpRequestsTotal, httpRequestDuration,
		fetchRequestsTotal, fetchDuration,
		submitAttemptsTotal,
		pollAttemptsTotal, pollDuration,
		chatTurnsTotal,
	)
}

func SetAppInfo(service string) {
	svc := strings.TrimSpace(service)
	if svc == "" {
		svc = "docbridge"
	}
	ver := strings.TrimSpace(os.Getenv("APP_VERSION"))
	if ver == "" {
		ver = "dev"
	}
	appInfo.WithLabelValues(svc, ver).Set(1)
}

// MetricsMiddleware records request count/latency.
func MetricsMiddleware(next http.Handler) http.Handler {
	if next == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		route := normalizeRouteLabel(r.URL.Path)
		code := strconv.Itoa(rec.code)
		httpRequestsTotal.WithLabelValues(r.Method, route, code).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.code = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// RecordFetch counts one outgoing request. op is "upload", "status", "chat" or "lookup".
func RecordFetch(op string, start time.Time, result string) {
	fetchRequestsTotal.WithLabelValues(op, result).Inc()
	fetchDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func RecordSubmitAttempt(err error) {
	submitAttemptsTotal.WithLabelValues(resultLabel(err)).Inc()
}

// RecordPollAttempt takes a short reason such as "not_ready", "decode_error" or "ok".
func RecordPollAttempt(result string) {
	pollAttemptsTotal.WithLabelValues(result).Inc()
}

func RecordPoll(start time.Time, outcome string) {
	pollDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func RecordChatTurn(result string) {
	chatTurnsTotal.WithLabelValues(result).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// The metrics listener only serves a handful of fixed paths; everything else collapses into one
// label to keep cardinality bounded.
func normalizeRouteLabel(path string) string {
	p := strings.TrimSpace(path)
	switch p {
	case "", "/":
		return "/"
	case "/metrics", "/healthz":
		return p
	}
	return "other"
}
