package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	if m.HTTPRequestsTotal == nil || m.HTTPRequestDuration == nil || m.HTTPResponseSize == nil {
		t.Error("HTTP metrics not initialized")
	}
	if m.AccessChecksTotal == nil || m.AccessCheckDuration == nil {
		t.Error("Access metrics not initialized")
	}
	if m.PropagationOpsTotal == nil || m.PropagationFanOut == nil {
		t.Error("Propagation metrics not initialized")
	}
	if m.ClientsTotal == nil || m.DelegationsTotal == nil {
		t.Error("Business metrics not initialized")
	}

	// Registering the same metrics twice must panic via MustRegister.
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected duplicate registration to panic")
		}
	}()
	NewMetrics(registry)
}

func counterValue(t *testing.T, c prometheus.Collector, labels ...string) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)
	for metric := range ch {
		var m dto.Metric
		if err := metric.Write(&m); err != nil {
			t.Fatalf("Failed to read metric: %v", err)
		}
		matched := true
		for _, want := range labels {
			found := false
			for _, lp := range m.Label {
				if lp.GetValue() == want {
					found = true
					break
				}
			}
			if !found {
				matched = false
				break
			}
		}
		if matched && m.Counter != nil {
			return m.Counter.GetValue()
		}
	}
	return 0
}

func TestMetrics_ObserveAccessCheck(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.ObserveAccessCheck("ADMIN", "allowed", 2*time.Millisecond)
	m.ObserveAccessCheck("ADMIN", "insufficient_role", time.Millisecond)
	m.ObserveAccessCheck("ADMIN", "insufficient_role", time.Millisecond)

	if got := counterValue(t, m.AccessChecksTotal, "ADMIN", "allowed"); got != 1 {
		t.Errorf("allowed count = %v, want 1", got)
	}
	if got := counterValue(t, m.AccessChecksTotal, "ADMIN", "insufficient_role"); got != 2 {
		t.Errorf("denied count = %v, want 2", got)
	}
}

func TestMetrics_ObserveMutation(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.ObserveMutation("share_access", "ok", 12)
	m.ObserveMutation("share_access", "error", 0)

	if got := counterValue(t, m.PropagationOpsTotal, "share_access", "ok"); got != 1 {
		t.Errorf("ok count = %v, want 1", got)
	}
	if got := counterValue(t, m.PropagationOpsTotal, "share_access", "error"); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusCreated)
	if rw.statusCode != http.StatusCreated {
		t.Errorf("statusCode = %d, want 201", rw.statusCode)
	}

	n, err := rw.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Errorf("Write = (%d, %v)", n, err)
	}
	if rw.bytesWritten != 5 {
		t.Errorf("bytesWritten = %d, want 5", rw.bytesWritten)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest("GET", "/api/clients", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}
	if got := counterValue(t, m.HTTPRequestsTotal, "GET", "/api/clients", "418"); got != 1 {
		t.Errorf("request count = %v, want 1", got)
	}
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.ClientsTotal.Set(3)

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "gitpulse_clients_total 3") {
		t.Errorf("metrics output missing gitpulse_clients_total:\n%s", rec.Body.String())
	}
}
