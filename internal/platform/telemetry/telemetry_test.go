package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHistogram_Observe(t *testing.T) {
	h := newHistogram([]float64{1, 5, 10})
	for _, v := range []float64{0.5, 3, 3, 7, 20} {
		h.Observe(v)
	}
	if h.Count() != 5 {
		t.Fatalf("expected count 5, got %d", h.Count())
	}
	if h.Sum() != 33.5 {
		t.Errorf("expected sum 33.5, got %g", h.Sum())
	}
	cum := h.cumulativeBuckets()
	want := []int64{1, 3, 4}
	for i := range want {
		if cum[i] != want[i] {
			t.Errorf("bucket %d: expected %d, got %d", i, want[i], cum[i])
		}
	}
}

func TestHistogram_ConcurrentObserve(t *testing.T) {
	h := newHistogram(defaultDurationBuckets)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Observe(0.01)
		}()
	}
	wg.Wait()
	if h.Count() != 50 {
		t.Errorf("expected 50 observations, got %d", h.Count())
	}
}

func TestMetrics_RecordImport(t *testing.T) {
	m := NewMetrics()
	m.RecordImport(10, 2, 7)
	m.RecordImport(5, 0, 5)

	if got := m.Counter(CounterImports); got != 2 {
		t.Errorf("expected 2 imports, got %d", got)
	}
	if got := m.Counter(CounterRecords); got != 15 {
		t.Errorf("expected 15 records, got %d", got)
	}
	if got := m.Counter(CounterDropped); got != 2 {
		t.Errorf("expected 2 dropped, got %d", got)
	}
	if got := m.Counter(CounterObservations); got != 12 {
		t.Errorf("expected 12 observations, got %d", got)
	}
}

func TestMetrics_MiddlewareAndHandler(t *testing.T) {
	m := NewMetrics()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/data", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/api/fail", func(c echo.Context) error { return echo.NewHTTPError(http.StatusBadRequest, "no") })
	e.GET("/metrics", m.Handler())

	for _, path := range []string{"/api/data", "/api/data", "/api/fail"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if h := m.Duration(LabelsKey("GET", "/api/data", "200")); h == nil || h.Count() != 2 {
		t.Fatalf("expected 2 observations for /api/data, got %v", h)
	}
	if h := m.Duration(LabelsKey("GET", "/api/fail", "400")); h == nil || h.Count() != 1 {
		t.Fatalf("expected 1 observation for /api/fail, got %v", h)
	}
	if m.Active() != 0 {
		t.Errorf("expected no active requests, got %d", m.Active())
	}

	m.RecordImport(3, 1, 2)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`http_server_request_duration_seconds_count{method="GET",route="/api/data",status_code="200"} 2`,
		`http_server_request_duration_seconds_bucket{method="GET",route="/api/fail",status_code="400",le="+Inf"} 1`,
		"# TYPE http_server_active_requests gauge",
		"labtrend_import_records_total 3",
		"labtrend_import_dropped_total 1",
		"labtrend_imports_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q", want)
		}
	}
}
