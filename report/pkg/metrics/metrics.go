package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dashboards_report_build_info",
			Help: "Build information of the report engine",
		},
		[]string{"version", "commit", "date"},
	)

	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboards_report_fetch_total",
			Help: "Total number of report fetches",
		},
		[]string{"mode", "status"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dashboards_report_fetch_duration_seconds",
			Help:    "Duration of report fetches",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 0.01s to ~20s
		},
		[]string{"mode"},
	)

	FetchDiscardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dashboards_report_fetch_discarded_total",
			Help: "Total number of fetch responses dropped because a newer request had already settled",
		},
	)

	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboards_report_backend_requests_total",
			Help: "Total number of query backend requests",
		},
		[]string{"backend", "status"},
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dashboards_report_backend_request_duration_seconds",
			Help:    "Duration of query backend requests",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 0.001s to ~16s
		},
		[]string{"backend"},
	)

	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dashboards_report_pipeline_stage_duration_seconds",
			Help:    "Duration of response pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~0.8s
		},
		[]string{"stage"},
	)

	DatasetCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboards_report_dataset_cache_total",
			Help: "Dataset value lookups by cache outcome",
		},
		[]string{"outcome"},
	)

	DrilldownTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboards_report_drilldown_total",
			Help: "Drilldown resolutions by outcome",
		},
		[]string{"outcome"},
	)

	SessionReports = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dashboards_report_session_reports",
			Help: "Number of report instances held by open sessions",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboards_report_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dashboards_report_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dashboards_report_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	HTTPRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dashboards_report_http_rate_limited_total",
			Help: "Total number of HTTP requests rejected by the rate limiter",
		},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Route pattern keeps label cardinality bounded.
		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = r.URL.Path
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
