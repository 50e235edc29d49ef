package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the ops server and check flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	providerChecksTotal    *prometheus.CounterVec
	providerCheckDuration  *prometheus.HistogramVec
	providerInflight       *prometheus.GaugeVec
	checksTotal            *prometheus.CounterVec
	devicePoolDevices      *prometheus.GaugeVec
	deviceQuarantinedTotal prometheus.Counter
	batchJobsTotal         *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "callscreen",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "callscreen",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		providerChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "callscreen",
				Name:      "provider_checks_total",
				Help:      "Total number of provider verdicts grouped by provider and status.",
			},
			[]string{"provider", "status"},
		),
		providerCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "callscreen",
				Name:      "provider_check_duration_seconds",
				Help:      "Provider check duration in seconds grouped by provider.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"provider"},
		),
		providerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "callscreen",
				Name:      "provider_inflight",
				Help:      "Current number of in-flight provider checks grouped by provider.",
			},
			[]string{"provider"},
		),
		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "callscreen",
				Name:      "checks_total",
				Help:      "Total number of completed number checks grouped by overall status.",
			},
			[]string{"status"},
		),
		devicePoolDevices: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "callscreen",
				Name:      "device_pool_devices",
				Help:      "Number of pooled devices grouped by status.",
			},
			[]string{"status"},
		),
		deviceQuarantinedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "callscreen",
				Name:      "device_quarantined_total",
				Help:      "Total number of times a device was quarantined after repeated errors.",
			},
		),
		batchJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "callscreen",
				Name:      "batch_jobs_total",
				Help:      "Total number of batch jobs that reached a terminal state.",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.providerChecksTotal,
		m.providerCheckDuration,
		m.providerInflight,
		m.checksTotal,
		m.devicePoolDevices,
		m.deviceQuarantinedTotal,
		m.batchJobsTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) ObserveProviderCheck(provider string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	providerLabel := normalizeLabel(provider)
	m.providerChecksTotal.WithLabelValues(providerLabel, normalizeLabel(status)).Inc()

	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.providerCheckDuration.WithLabelValues(providerLabel).Observe(seconds)
}

func (m *Metrics) IncProviderInFlight(provider string) {
	if m == nil {
		return
	}
	m.providerInflight.WithLabelValues(normalizeLabel(provider)).Inc()
}

func (m *Metrics) DecProviderInFlight(provider string) {
	if m == nil {
		return
	}
	m.providerInflight.WithLabelValues(normalizeLabel(provider)).Dec()
}

func (m *Metrics) IncCheck(status string) {
	if m == nil {
		return
	}
	m.checksTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) SetDevicePoolStatus(status string, count int) {
	if m == nil {
		return
	}
	m.devicePoolDevices.WithLabelValues(normalizeLabel(status)).Set(float64(count))
}

func (m *Metrics) IncDeviceQuarantined() {
	if m == nil {
		return
	}
	m.deviceQuarantinedTotal.Inc()
}

func (m *Metrics) IncBatchJob(status string) {
	if m == nil {
		return
	}
	m.batchJobsTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
