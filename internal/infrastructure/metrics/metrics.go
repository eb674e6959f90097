package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telemind/core/internal/application/services"
)

// Metrics owns the Prometheus registry for HTTP traffic and scanner runs
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	scansTotal      *prometheus.CounterVec
	scanDuration    *prometheus.HistogramVec
	remindersTotal  *prometheus.CounterVec
}

// New creates and registers all collectors
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scans_total",
				Help:      "Due-task scans by scope and outcome",
			},
			[]string{"scope", "outcome"},
		),
		scanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scan_duration_seconds",
				Help:      "Due-task scan duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"scope"},
		),
		remindersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminders_total",
				Help:      "Reminder outcomes observed by the scanner",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.scansTotal,
		m.scanDuration,
		m.remindersTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Middleware records request counts and latency per route
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			m.requestsTotal.WithLabelValues(
				c.Request().Method,
				c.Path(),
				fmt.Sprintf("%d", status),
			).Inc()

			m.requestDuration.WithLabelValues(
				c.Request().Method,
				c.Path(),
			).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveScan implements services.ScanObserver
func (m *Metrics) ObserveScan(scope string, report *services.ScanReport, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.scansTotal.WithLabelValues(scope, outcome).Inc()
	m.scanDuration.WithLabelValues(scope).Observe(elapsed.Seconds())

	if report == nil {
		return
	}
	for result, n := range map[string]int{
		"delivered": report.Delivered,
		"retrying":  report.Retrying,
		"failed":    report.Failed,
		"skipped":   report.Skipped,
		"recovered": report.Recovered,
	} {
		if n > 0 {
			m.remindersTotal.WithLabelValues(result).Add(float64(n))
		}
	}
}
