// Package metrics exposes Prometheus metrics for the HTTP surface and the ingestion pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds every metric the service records.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	ingestionsTotal    *prometheus.CounterVec
	thumbnailFallbacks prometheus.Counter
	analyzerDuration   *prometheus.HistogramVec

	mirrorJobsTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the metrics under namespace with reg. A nil reg uses the default registry.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"method", "path"},
	)

	c.ingestionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Video ingestions by outcome (processed, degraded, failed_<kind>)",
		},
		[]string{"outcome"},
	)
	c.thumbnailFallbacks = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thumbnail_fallbacks_total",
			Help:      "Thumbnails taken from the first frame after the release frame failed",
		},
	)
	c.analyzerDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analyzer_request_duration_seconds",
			Help:      "Motion-analysis call duration in seconds",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	c.mirrorJobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_jobs_total",
			Help:      "Media mirror jobs by result",
		},
		[]string{"result"},
	)
	return c
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IngestionOutcome counts a finished ingestion.
func (c *Collector) IngestionOutcome(outcome string) {
	c.ingestionsTotal.WithLabelValues(outcome).Inc()
}

// ThumbnailFallback counts a fallback to the first frame.
func (c *Collector) ThumbnailFallback() {
	c.thumbnailFallbacks.Inc()
}

// AnalyzerCall records the latency of one analyzer call.
func (c *Collector) AnalyzerCall(outcome string, elapsed time.Duration) {
	c.analyzerDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// MirrorJob counts a processed mirror job; result is "ok" or "error".
func (c *Collector) MirrorJob(result string) {
	c.mirrorJobsTotal.WithLabelValues(result).Inc()
}

// Middleware records every request by its route template, so ids never become label values.
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		path := ctx.FullPath()
		if path == "" {
			path = "unmatched"
		}
		c.RecordHTTPRequest(ctx.Request.Method, path, ctx.Writer.Status(), time.Since(start))
	}
}
