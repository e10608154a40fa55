package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
	size     *prometheus.HistogramVec
}

var (
	defaultHTTPMetrics     *httpMetrics
	defaultHTTPMetricsOnce sync.Once
)

func metricsFor(reg prometheus.Registerer) *httpMetrics {
	if reg != nil {
		return newHTTPMetrics(reg)
	}
	defaultHTTPMetricsOnce.Do(func() {
		defaultHTTPMetrics = newHTTPMetrics(prometheus.DefaultRegisterer)
	})
	return defaultHTTPMetrics
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	f := promauto.With(reg)
	return &httpMetrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalgate_http_requests_total",
			Help: "Ops HTTP requests",
		}, []string{"route", "method", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalgate_http_request_duration_seconds",
			Help:    "Ops HTTP request duration",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "method", "class"}),
		inFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signalgate_http_in_flight_requests",
			Help: "Ops HTTP requests in flight",
		}, []string{"route", "method"}),
		size: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalgate_http_response_size_bytes",
			Help:    "Ops HTTP response size",
			Buckets: []float64{200, 500, 1_000, 5_000, 20_000, 100_000, 500_000},
		}, []string{"route", "method"}),
	}
}

// Metrics records request metrics labelled by the matched route template.
// A nil reg uses the default registry.
func Metrics(reg prometheus.Registerer) echo.MiddlewareFunc {
	m := metricsFor(reg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := routeLabel(c)
			method := c.Request().Method

			m.inFlight.WithLabelValues(route, method).Inc()
			defer m.inFlight.WithLabelValues(route, method).Dec()
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
			m.duration.WithLabelValues(route, method, statusClass(status)).Observe(time.Since(start).Seconds())
			m.size.WithLabelValues(route, method).Observe(float64(c.Response().Size))
			return nil
		}
	}
}

func routeLabel(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}

func statusClass(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
