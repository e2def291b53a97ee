package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "peertrack",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peertrack",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "peertrack",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	collectionTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peertrack",
			Subsystem: "collector",
			Name:      "tasks_total",
			Help:      "Total number of collection tasks by outcome.",
		},
		[]string{"status"},
	)

	collectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "peertrack",
			Subsystem: "collector",
			Name:      "task_duration_seconds",
			Help:      "Duration of collection tasks.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	adsPersisted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "peertrack",
			Subsystem: "collector",
			Name:      "ads_persisted_total",
			Help:      "Total number of order-book entries written.",
		},
	)

	qualityScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "peertrack",
			Subsystem: "collector",
			Name:      "last_quality_score",
			Help:      "Data quality score of the most recent snapshot.",
		},
		[]string{"pair", "trade_type"},
	)

	snapshotsDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "peertrack",
			Subsystem: "retention",
			Name:      "snapshots_deleted_total",
			Help:      "Total number of snapshots removed by retention cleanup.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		collectionTasks,
		collectionDuration,
		adsPersisted,
		qualityScore,
		snapshotsDeleted,
	)
}

// Handler exposes the registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveTask records one collection task outcome and its duration.
func ObserveTask(status string, elapsed time.Duration) {
	collectionTasks.WithLabelValues(status).Inc()
	collectionDuration.Observe(elapsed.Seconds())
}

// ObserveSnapshot records a persisted snapshot.
func ObserveSnapshot(pair, tradeType string, ads int, score float64) {
	adsPersisted.Add(float64(ads))
	qualityScore.WithLabelValues(pair, tradeType).Set(score)
}

// ObserveRetention records deleted snapshots.
func ObserveRetention(deleted int) {
	snapshotsDeleted.Add(float64(deleted))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments an HTTP handler with request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
