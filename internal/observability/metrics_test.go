package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/v1/stats", 200, time.Millisecond)
	m.ObserveRecord("committed", time.Millisecond)
	m.ObserveLookup("get_by_id", "ok", time.Millisecond)
	m.SetGraphCounts(map[string]int64{"Paper": 1}, nil)
	if m.Registry() != nil {
		t.Fatalf("nil metrics must not expose a registry")
	}
}

func TestIngestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveRecord("committed", 2*time.Millisecond)
	m.ObserveRecord("committed", 0)
	m.AddRecords("parse_error", 3)
	m.AddRecords("rejected", 0)

	body := scrape(t, m)
	for _, want := range []string{
		`citegraph_ingest_records_total{outcome="committed"} 2`,
		`citegraph_ingest_records_total{outcome="parse_error"} 3`,
		`citegraph_ingest_record_duration_seconds_count 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
	if strings.Contains(body, `outcome="rejected"`) {
		t.Fatalf("zero additions must not create a series")
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status: %d", rec.Code)
	}
	return rec.Body.String()
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveAPI("GET", "/v1/lineage/graph", 404, 5*time.Millisecond)
	m.ObserveRun("succeeded", 1250)

	body := scrape(t, m)
	for _, want := range []string{
		`citegraph_http_requests_total{method="GET",route="/v1/lineage/graph",status="404"} 1`,
		`citegraph_ingest_records_per_second 1250`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
