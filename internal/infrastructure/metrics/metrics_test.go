package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/telemind/core/internal/application/services"
)

func TestObserveScan(t *testing.T) {
	m := New("telemind")

	m.ObserveScan("global", &services.ScanReport{Delivered: 2, Failed: 1}, 30*time.Millisecond, nil)
	m.ObserveScan("owner", &services.ScanReport{}, time.Millisecond, errors.New("store down"))

	if got := testutil.ToFloat64(m.remindersTotal.WithLabelValues("delivered")); got != 2 {
		t.Errorf("expected 2 delivered, got %v", got)
	}
	if got := testutil.ToFloat64(m.remindersTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("expected 1 failed, got %v", got)
	}
	if got := testutil.ToFloat64(m.scansTotal.WithLabelValues("owner", "error")); got != 1 {
		t.Errorf("expected 1 failed owner scan, got %v", got)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New("telemind")
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `telemind_http_requests_total{method="GET",path="/health",status="200"} 1`) {
		t.Errorf("request counter missing from exposition:\n%s", rec.Body.String())
	}
}
