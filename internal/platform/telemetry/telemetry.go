// Package telemetry provides observability for the bridge using only
// standard library constructs. It exposes counters, gauges and histograms
// for the MLLP and HTTP surfaces, plus a Prometheus text exposition
// endpoint -- all without importing the go.opentelemetry.io SDK.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Histogram — Prometheus-style histogram with buckets
// ---------------------------------------------------------------------------

// histogram is a thread-safe histogram with configurable bucket boundaries.
// Bucket counts are non-cumulative in storage; cumulative counts are computed
// at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64 // one per boundary, non-cumulative
	count        int64
	sum          uint64     // stored as math.Float64bits for atomic add
	mu           sync.Mutex // protects bucketCounts
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			h.mu.Unlock()
			return
		}
	}
	// Value exceeds all boundaries — counted in +Inf (handled at export).
	h.mu.Unlock()
}

// Count returns the total number of observations.
func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

// Sum returns the total sum of all observations.
func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

// cumulativeBuckets returns cumulative bucket counts for Prometheus export.
func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	cum := make([]int64, len(raw))
	var running int64
	for i, c := range raw {
		running += c
		cum[i] = running
	}
	return cum
}

// atomicAddFloat64 performs an atomic add on a uint64 that stores a float64
// using CAS.
func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Counter store — keyed by metric name plus optional label values
// ---------------------------------------------------------------------------

type counterStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newCounterStore() *counterStore {
	return &counterStore{items: make(map[string]*int64)}
}

func (s *counterStore) inc(key string) {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, 1)
		return
	}
	s.mu.Lock()
	p, ok = s.items[key]
	if !ok {
		p = new(int64)
		s.items[key] = p
	}
	s.mu.Unlock()
	atomic.AddInt64(p, 1)
}

func (s *counterStore) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (s *counterStore) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

// ---------------------------------------------------------------------------
// Gauge store
// ---------------------------------------------------------------------------

type gaugeStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newGaugeStore() *gaugeStore {
	return &gaugeStore{items: make(map[string]*int64)}
}

func (s *gaugeStore) ptr(key string) *int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return p
	}
	s.mu.Lock()
	p, ok = s.items[key]
	if !ok {
		p = new(int64)
		s.items[key] = p
	}
	s.mu.Unlock()
	return p
}

func (s *gaugeStore) add(key string, delta int64) {
	atomic.AddInt64(s.ptr(key), delta)
}

func (s *gaugeStore) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// defaultDurationBuckets are latency boundaries in seconds, following the
// Prometheus convention for request durations.
var defaultDurationBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// Metrics records bridge-level counters, gauges and latency histograms.
// All methods are safe for concurrent use and safe to call on a nil
// receiver, so components can treat metrics as optional.
type Metrics struct {
	counters *counterStore
	gauges   *gaugeStore

	sendLatency *histogram
	httpLatency *histogram
}

// New returns an empty Metrics registry.
func New() *Metrics {
	return &Metrics{
		counters:    newCounterStore(),
		gauges:      newGaugeStore(),
		sendLatency: newHistogram(defaultDurationBuckets),
		httpLatency: newHistogram(defaultDurationBuckets),
	}
}

// MessageReceived counts an inbound HL7 message successfully parsed.
func (m *Metrics) MessageReceived() {
	if m == nil {
		return
	}
	m.counters.inc("mllp.messages.received")
}

// MessageSent counts an outbound frame written to a peer.
func (m *Metrics) MessageSent() {
	if m == nil {
		return
	}
	m.counters.inc("mllp.messages.sent")
}

// ParseError counts an inbound frame that failed HL7 parsing.
func (m *Metrics) ParseError() {
	if m == nil {
		return
	}
	m.counters.inc("mllp.parse.errors")
}

// BufferOverflow counts a receive buffer discard after exceeding the
// configured maximum.
func (m *Metrics) BufferOverflow() {
	if m == nil {
		return
	}
	m.counters.inc("mllp.buffer.overflows")
}

// ConnectionOpened increments the active connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.counters.inc("mllp.connections.opened")
	m.gauges.add("mllp.connections.active", 1)
}

// ConnectionClosed decrements the active connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.gauges.add("mllp.connections.active", -1)
}

// SendError counts a failed outbound send by error code.
func (m *Metrics) SendError(code string) {
	if m == nil {
		return
	}
	m.counters.inc("mllp.send.errors|" + code)
}

// ObserveSendLatency records the round-trip time of one send, message
// written to ACK received.
func (m *Metrics) ObserveSendLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.sendLatency.Observe(d.Seconds())
}

// MessagesReceived returns the inbound message counter, for health reporting.
func (m *Metrics) MessagesReceived() int64 {
	if m == nil {
		return 0
	}
	return m.counters.get("mllp.messages.received")
}

// ActiveConnections returns the current active connection gauge.
func (m *Metrics) ActiveConnections() int64 {
	if m == nil {
		return 0
	}
	return m.gauges.get("mllp.connections.active")
}

// SendErrors returns the send error counter for one error code.
func (m *Metrics) SendErrors(code string) int64 {
	if m == nil {
		return 0
	}
	return m.counters.get("mllp.send.errors|" + code)
}

// SendLatencyCount returns the number of send latency observations.
func (m *Metrics) SendLatencyCount() int64 {
	if m == nil {
		return 0
	}
	return m.sendLatency.Count()
}

// ---------------------------------------------------------------------------
// HTTP middleware
// ---------------------------------------------------------------------------

// Middleware returns an Echo middleware that records HTTP server metrics.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}

			m.gauges.add("http.server.active_requests", 1)
			start := time.Now()

			err := next(c)

			m.gauges.add("http.server.active_requests", -1)
			m.httpLatency.Observe(time.Since(start).Seconds())

			status := c.Response().Status
			m.counters.inc(fmt.Sprintf("http.server.requests|%d", status))

			return err
		}
	}
}

// ---------------------------------------------------------------------------
// Prometheus exposition
// ---------------------------------------------------------------------------

// Handler returns an Echo handler that serves all metrics in Prometheus
// text exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		if m == nil {
			return c.String(http.StatusOK, "")
		}

		var b strings.Builder
		counters := m.counters.snapshot()

		plain := []struct {
			promName string
			key      string
			help     string
		}{
			{"mllp_messages_received_total", "mllp.messages.received", "Inbound HL7 messages successfully parsed."},
			{"mllp_messages_sent_total", "mllp.messages.sent", "Outbound MLLP frames written."},
			{"mllp_parse_errors_total", "mllp.parse.errors", "Inbound frames that failed HL7 parsing."},
			{"mllp_buffer_overflows_total", "mllp.buffer.overflows", "Receive buffers discarded after exceeding the limit."},
			{"mllp_connections_opened_total", "mllp.connections.opened", "Inbound MLLP connections accepted."},
		}
		for _, p := range plain {
			fmt.Fprintf(&b, "# HELP %s %s\n", p.promName, p.help)
			fmt.Fprintf(&b, "# TYPE %s counter\n", p.promName)
			fmt.Fprintf(&b, "%s %d\n\n", p.promName, counters[p.key])
		}

		b.WriteString("# HELP mllp_send_errors_total Failed outbound sends by error code.\n")
		b.WriteString("# TYPE mllp_send_errors_total counter\n")
		for key, val := range counters {
			if code, ok := strings.CutPrefix(key, "mllp.send.errors|"); ok {
				fmt.Fprintf(&b, "mllp_send_errors_total{code=%q} %d\n", code, val)
			}
		}
		b.WriteByte('\n')

		b.WriteString("# HELP http_server_requests_total HTTP requests by status code.\n")
		b.WriteString("# TYPE http_server_requests_total counter\n")
		for key, val := range counters {
			if status, ok := strings.CutPrefix(key, "http.server.requests|"); ok {
				fmt.Fprintf(&b, "http_server_requests_total{status=%q} %d\n", status, val)
			}
		}
		b.WriteByte('\n')

		gauges := []struct {
			promName string
			key      string
			help     string
		}{
			{"mllp_connections_active", "mllp.connections.active", "Currently open inbound MLLP connections."},
			{"http_server_active_requests", "http.server.active_requests", "Number of active HTTP requests."},
		}
		for _, g := range gauges {
			fmt.Fprintf(&b, "# HELP %s %s\n", g.promName, g.help)
			fmt.Fprintf(&b, "# TYPE %s gauge\n", g.promName)
			fmt.Fprintf(&b, "%s %d\n\n", g.promName, m.gauges.get(g.key))
		}

		writeHistogram(&b, "mllp_send_duration_seconds",
			"Round-trip time of outbound sends in seconds.", m.sendLatency)
		writeHistogram(&b, "http_server_request_duration_seconds",
			"Duration of HTTP requests in seconds.", m.httpLatency)

		return c.String(http.StatusOK, b.String())
	}
}

func writeHistogram(b *strings.Builder, name, help string, h *histogram) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)

	cum := h.cumulativeBuckets()
	total := h.Count()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{le=\"%g\"} %d\n", name, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", name, total)
	fmt.Fprintf(b, "%s_sum %g\n", name, h.Sum())
	fmt.Fprintf(b, "%s_count %d\n", name, total)
	b.WriteByte('\n')
}
