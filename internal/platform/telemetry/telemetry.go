// Package telemetry records HTTP server and import metrics and serves them
// in the Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Histogram keeps non-cumulative bucket counts; cumulative counts are
// computed at export time.
type Histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *Histogram {
	return &Histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *Histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *Histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *Histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *Histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(addr, old, next) {
			return
		}
	}
}

// LabelsKey builds the key of a per-route duration histogram.
func LabelsKey(method, route, statusCode string) string {
	return method + "|" + route + "|" + statusCode
}

// Import counter names.
const (
	CounterImports      = "labtrend_imports_total"
	CounterRecords      = "labtrend_import_records_total"
	CounterDropped      = "labtrend_import_dropped_total"
	CounterObservations = "labtrend_import_observations_total"
)

var counterHelp = map[string]string{
	CounterImports:      "Completed import runs.",
	CounterRecords:      "Raw records read by imports.",
	CounterDropped:      "Records dropped for lacking a name or date.",
	CounterObservations: "Observation slots written by imports.",
}

// Metrics is safe for concurrent use.
type Metrics struct {
	active int64

	mu        sync.RWMutex
	durations map[string]*Histogram
	counters  map[string]int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		durations: make(map[string]*Histogram),
		counters:  make(map[string]int64),
	}
}

// RecordImport adds one import run to the import counters.
func (m *Metrics) RecordImport(records, dropped, observations int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[CounterImports]++
	m.counters[CounterRecords] += int64(records)
	m.counters[CounterDropped] += int64(dropped)
	m.counters[CounterObservations] += int64(observations)
}

// Counter returns the current value of a named counter.
func (m *Metrics) Counter(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[name]
}

// Active returns the number of requests in flight.
func (m *Metrics) Active() int64 { return atomic.LoadInt64(&m.active) }

// Duration returns the request duration histogram for key, or nil.
func (m *Metrics) Duration(key string) *Histogram {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.durations[key]
}

func (m *Metrics) observeDuration(key string, seconds float64) {
	m.mu.RLock()
	h, ok := m.durations[key]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if h, ok = m.durations[key]; !ok {
			h = newHistogram(defaultDurationBuckets)
			m.durations[key] = h
		}
		m.mu.Unlock()
	}
	h.Observe(seconds)
}

// Middleware records the duration of each request under its route pattern.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.active, 1)
			start := time.Now()

			err := next(c)

			atomic.AddInt64(&m.active, -1)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			m.observeDuration(LabelsKey(c.Request().Method, route, strconv.Itoa(status)), time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves every metric in Prometheus text format. Series are
// written in sorted order.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder
		m.write(&b)
		return c.String(http.StatusOK, b.String())
	}
}

func (m *Metrics) write(b *strings.Builder) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.durations))
	for k := range m.durations {
		keys = append(keys, k)
	}
	durations := make(map[string]*Histogram, len(m.durations))
	for k, h := range m.durations {
		durations[k] = h
	}
	counters := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		counters[k] = v
	}
	m.mu.RUnlock()
	sort.Strings(keys)

	const name = "http_server_request_duration_seconds"
	fmt.Fprintf(b, "# HELP %s Duration of HTTP requests in seconds.\n", name)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)
	for _, key := range keys {
		parts := strings.SplitN(key, "|", 3)
		if len(parts) != 3 {
			continue
		}
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
		writeHistogram(b, name, labels, durations[key])
	}
	b.WriteByte('\n')

	b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
	b.WriteString("# TYPE http_server_active_requests gauge\n")
	fmt.Fprintf(b, "http_server_active_requests %d\n\n", m.Active())

	names := make([]string, 0, len(counterHelp))
	for n := range counterHelp {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(b, "# HELP %s %s\n", n, counterHelp[n])
		fmt.Fprintf(b, "# TYPE %s counter\n", n)
		fmt.Fprintf(b, "%s %d\n\n", n, counters[n])
	}
}

func writeHistogram(b *strings.Builder, name, labels string, h *Histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}
