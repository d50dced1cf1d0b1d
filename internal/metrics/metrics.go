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
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyobs_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skyobs_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	activePlanStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "skyobs_plan_streams_active",
			Help: "Number of plan streams currently open.",
		},
	)

	planStreamsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyobs_plan_streams_total",
			Help: "Total plan streams by terminal outcome.",
		},
		[]string{"outcome"},
	)

	imageDownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyobs_image_downloads_total",
			Help: "Survey image downloads by result.",
		},
		[]string{"result"},
	)

	imageCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skyobs_image_cache_hits_total",
			Help: "Image cache lookups that found an existing file.",
		},
	)

	imageCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skyobs_image_cache_misses_total",
			Help: "Image cache lookups that found no file.",
		},
	)

	imageCacheWrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skyobs_image_cache_writes_total",
			Help: "Images processed and persisted to the cache.",
		},
	)

	imageCachePurges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skyobs_image_cache_purges_total",
			Help: "Cache purge operations.",
		},
	)

	catalogObjects = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "skyobs_catalog_objects",
			Help: "Objects loaded per catalog.",
		},
		[]string{"catalog"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpDurationSeconds)
	prometheus.MustRegister(activePlanStreams)
	prometheus.MustRegister(planStreamsTotal)
	prometheus.MustRegister(imageDownloadsTotal)
	prometheus.MustRegister(imageCacheHits)
	prometheus.MustRegister(imageCacheMisses)
	prometheus.MustRegister(imageCacheWrites)
	prometheus.MustRegister(imageCachePurges)
	prometheus.MustRegister(catalogObjects)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StreamStarted marks a plan stream as open.
func StreamStarted() {
	activePlanStreams.Inc()
}

// StreamEnded marks a plan stream as closed with its terminal outcome:
// "completed", "cancelled" or "error".
func StreamEnded(outcome string) {
	activePlanStreams.Dec()
	planStreamsTotal.WithLabelValues(outcome).Inc()
}

// IncImageDownloads counts one survey download attempt with its result:
// "ok", "error" or "cancelled".
func IncImageDownloads(result string) {
	imageDownloadsTotal.WithLabelValues(result).Inc()
}

// IncImageCacheHits counts a cache lookup that found an existing file.
func IncImageCacheHits() { imageCacheHits.Inc() }

// IncImageCacheMisses counts a cache lookup that found nothing.
func IncImageCacheMisses() { imageCacheMisses.Inc() }

// IncImageCacheWrites counts a processed image persisted to disk.
func IncImageCacheWrites() { imageCacheWrites.Inc() }

// IncImageCachePurges counts a purge operation.
func IncImageCachePurges() { imageCachePurges.Inc() }

// SetCatalogObjects records the object count for a loaded catalog.
func SetCatalogObjects(catalog string, n int) {
	catalogObjects.WithLabelValues(catalog).Set(float64(n))
}

// knownRoutes are the exact paths this service serves. Everything else is
// collapsed into a single "other" label so scanner traffic cannot blow up
// metric cardinality.
var knownRoutes = map[string]bool{
	"/":                true,
	"/healthz":         true,
	"/readyz":          true,
	"/metrics":         true,
	"/api/v1/plan":     true,
	"/api/v1/catalogs": true,
	"/api/v1/cache":    true,
}

// normalizeRoute maps a request path to a bounded set of metric labels.
// Cache file paths and per-fingerprint purge paths carry arbitrary
// fingerprints, so they collapse to parameterized labels.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if strings.HasPrefix(path, "/cache/") {
		return "/cache/{fingerprint}/{file}"
	}
	if strings.HasPrefix(path, "/api/v1/cache/") {
		return "/api/v1/cache/{fingerprint}"
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush and Unwrap keep SSE streaming working through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
