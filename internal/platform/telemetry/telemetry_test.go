package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.MessageReceived()
	m.MessageSent()
	m.ParseError()
	m.BufferOverflow()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.SendError("ACK_TIMEOUT")
	m.ObserveSendLatency(time.Millisecond)

	if got := m.MessagesReceived(); got != 0 {
		t.Errorf("MessagesReceived() on nil = %d, want 0", got)
	}
	if got := m.ActiveConnections(); got != 0 {
		t.Errorf("ActiveConnections() on nil = %d, want 0", got)
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.MessageReceived()
	m.MessageReceived()
	m.MessageReceived()
	if got := m.MessagesReceived(); got != 3 {
		t.Errorf("MessagesReceived() = %d, want 3", got)
	}

	m.SendError("ACK_TIMEOUT")
	m.SendError("ACK_TIMEOUT")
	m.SendError("NO_CONNECTION")
	if got := m.SendErrors("ACK_TIMEOUT"); got != 2 {
		t.Errorf("SendErrors(ACK_TIMEOUT) = %d, want 2", got)
	}
	if got := m.SendErrors("NO_CONNECTION"); got != 1 {
		t.Errorf("SendErrors(NO_CONNECTION) = %d, want 1", got)
	}
}

func TestConnectionGauge(t *testing.T) {
	m := New()
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	if got := m.ActiveConnections(); got != 1 {
		t.Errorf("ActiveConnections() = %d, want 1", got)
	}
}

func TestCountersConcurrent(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.MessageReceived()
				m.ObserveSendLatency(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if got := m.MessagesReceived(); got != 1000 {
		t.Errorf("MessagesReceived() = %d, want 1000", got)
	}
	if got := m.SendLatencyCount(); got != 1000 {
		t.Errorf("SendLatencyCount() = %d, want 1000", got)
	}
}

func TestHistogramBuckets(t *testing.T) {
	h := newHistogram([]float64{0.1, 1, 10})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(5)
	h.Observe(50)

	cum := h.cumulativeBuckets()
	want := []int64{1, 2, 3}
	for i, w := range want {
		if cum[i] != w {
			t.Errorf("cumulative bucket %d = %d, want %d", i, cum[i], w)
		}
	}
	if h.Count() != 4 {
		t.Errorf("Count() = %d, want 4", h.Count())
	}
	if h.Sum() != 55.55 {
		t.Errorf("Sum() = %g, want 55.55", h.Sum())
	}
}

func TestPrometheusHandler(t *testing.T) {
	m := New()
	m.MessageReceived()
	m.ParseError()
	m.SendError("ACK_MISMATCH")
	m.ObserveSendLatency(10 * time.Millisecond)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := m.Handler()(c); err != nil {
		t.Fatalf("Handler() error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"mllp_messages_received_total 1",
		"mllp_parse_errors_total 1",
		`mllp_send_errors_total{code="ACK_MISMATCH"} 1`,
		"mllp_send_duration_seconds_count 1",
		"# TYPE mllp_send_duration_seconds histogram",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q\n%s", want, body)
		}
	}
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if got := m.counters.get("http.server.requests|200"); got != 1 {
		t.Errorf("http.server.requests|200 = %d, want 1", got)
	}
	if got := m.gauges.get("http.server.active_requests"); got != 0 {
		t.Errorf("active_requests after completion = %d, want 0", got)
	}
}
