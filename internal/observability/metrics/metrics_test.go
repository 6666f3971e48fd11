package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveTransition(t *testing.T) {
	before := testutil.ToFloat64(transitions.WithLabelValues("claim", "ok"))
	ObserveTransition("claim", "ok")
	ObserveTransition("claim", "ok")
	if got := testutil.ToFloat64(transitions.WithLabelValues("claim", "ok")); got != before+2 {
		t.Fatalf("expected %v, got %v", before+2, got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveHTTPRequest("/api/v1/orders", http.MethodGet, 200, 20*time.Millisecond)
	ObservePublishFailure("order.claimed")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{
		"purchaserelay_http_requests_total",
		"purchaserelay_http_request_duration_seconds",
		"purchaserelay_events_publish_failures_total",
	} {
		if !strings.Contains(body, name) {
			t.Fatalf("metric %s missing from exposition", name)
		}
	}
}
