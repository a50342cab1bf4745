package metrics

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics records request/response series for the JSON API.
type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	labels := []string{"method", "route", "code"}
	m := &HTTPMetrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Handled API requests, by method, route template and status class.",
		}, labels),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of API requests, by method, route template and status class.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, labels),
		InFlightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "API requests currently being served.",
		}),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.InFlightGauge)
	return m
}

// instrumented reports whether a route template is recorded. Probes, the
// scrape endpoint and the long-lived feed would only add noise.
func instrumented(route string) bool {
	switch {
	case route == "" || route == "/metrics" || route == "/version":
		return false
	case strings.HasPrefix(route, "/health/"), strings.HasPrefix(route, "/ws/"):
		return false
	}
	return true
}

// statusClass collapses a status code to "2xx", "4xx" and so on.
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Middleware records every instrumented route. It has to run after the error
// middleware has written the response so the recorded status is final.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if !instrumented(route) {
				return next(c)
			}

			m.InFlightGauge.Inc()
			timer := prometheus.NewTimer(nil)
			err := next(c)
			elapsed := timer.ObserveDuration()
			m.InFlightGauge.Dec()

			method := c.Request().Method
			code := statusClass(c.Response().Status)
			m.RequestsTotal.WithLabelValues(method, route, code).Inc()
			m.RequestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
			return err
		}
	}
}
