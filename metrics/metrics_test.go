package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Observers(t *testing.T) {
	c := NewWithRegistry(prometheus.NewRegistry())

	c.ObserveAdmission("ai", true)
	c.ObserveAdmission("ai", false)
	c.ObserveAdmission("ai", false)
	c.ObserveCSRF("mismatch")
	c.ObserveSweep(3, 7)
	c.ObserveSweep(1, -1)
	c.ObserveReload(nil)
	c.ObserveReload(errors.New("bad yaml"))

	if got := testutil.ToFloat64(c.Admissions.WithLabelValues("ai", "rejected")); got != 2 {
		t.Fatalf("expected 2 rejected, got %v", got)
	}
	if got := testutil.ToFloat64(c.CSRF.WithLabelValues("mismatch")); got != 1 {
		t.Fatalf("expected 1 mismatch, got %v", got)
	}
	if got := testutil.ToFloat64(c.Sweeps); got != 2 {
		t.Fatalf("expected 2 sweeps, got %v", got)
	}
	if got := testutil.ToFloat64(c.SweptKeys); got != 4 {
		t.Fatalf("expected 4 swept keys, got %v", got)
	}
	// keys=-1 não sobrescreve o gauge
	if got := testutil.ToFloat64(c.RateLimitKeys); got != 7 {
		t.Fatalf("expected 7 keys, got %v", got)
	}
	if got := testutil.ToFloat64(c.ConfigReloads.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 reload error, got %v", got)
	}
}

func TestCollector_MiddlewareAndHandler(t *testing.T) {
	c := NewWithRegistry(prometheus.NewRegistry())
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if n := testutil.CollectAndCount(c.RequestDuration); n != 1 {
		t.Fatalf("expected 1 histogram series, got %d", n)
	}

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), `gate_request_duration_seconds_count{method="GET",status="4xx"} 1`) {
		t.Fatalf("expected duration series in exposition, got:\n%s", w.Body.String())
	}
}
