package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveHTTPRequest(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest("POST /api/v1/chat", "POST", 200, 30*time.Millisecond)
	m.ObserveHTTPRequest("POST /api/v1/chat", "POST", 502, time.Second)
	m.ObserveHTTPRequest("", "GET", 404, time.Millisecond)

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("POST /api/v1/chat", "POST", "200")); got != 1 {
		t.Fatalf("expected one 200, got %v", got)
	}
	if got := testutil.ToFloat64(m.httpErrors.WithLabelValues("POST /api/v1/chat", "POST")); got != 1 {
		t.Fatalf("expected one server error, got %v", got)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("unmatched", "GET", "404")); got != 1 {
		t.Fatalf("empty handler should be labelled unmatched, got %v", got)
	}
}

func TestObserveChatAndTask(t *testing.T) {
	m := New()
	m.ObserveChat("scan_user", "blocking", 2*time.Second, 0)
	m.ObserveChat("scan_user", "stream", time.Second, 2)
	m.ObserveTask("succeeded")
	m.ObserveTask("retried")
	m.ObserveTask("retried")

	if got := testutil.ToFloat64(m.chatDegraded.WithLabelValues("scan_user")); got != 1 {
		t.Fatalf("expected one degraded chat, got %v", got)
	}
	if got := testutil.ToFloat64(m.taskOutcomes.WithLabelValues("retried")); got != 2 {
		t.Fatalf("expected two retries, got %v", got)
	}
}

func TestHandlerExposesBusCounters(t *testing.T) {
	m := New()
	m.RegisterBus(func() (uint64, uint64) { return 7, 2 })
	m.ObserveTask("failed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		"riskpilot_bus_messages_sent_total 7",
		"riskpilot_bus_messages_dropped_total 2",
		`riskpilot_task_outcomes_total{outcome="failed"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, text)
		}
	}
}

func TestNilMetricsIsInert(t *testing.T) {
	var m *Metrics
	m.ObserveHTTPRequest("x", "GET", 500, time.Second)
	m.ObserveChat("unknown", "blocking", time.Second, 1)
	m.ObserveTask("failed")
	m.RegisterBus(func() (uint64, uint64) { return 0, 0 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("nil metrics handler should 404, got %d", rec.Code)
	}
}
