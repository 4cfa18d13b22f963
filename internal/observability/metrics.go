package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungbote/citegraph/internal/platform/logger"
)

// Metrics is nil-safe: every method on a nil *Metrics is a no-op, so
// components can record unconditionally whether or not metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	ingestRecords   *prometheus.CounterVec
	ingestBatches   prometheus.Counter
	ingestRecordDur prometheus.Histogram
	ingestRate      prometheus.Gauge
	ingestRuns      *prometheus.CounterVec

	lookups       *prometheus.CounterVec
	lookupLatency *prometheus.HistogramVec
	lineageNodes  *prometheus.CounterVec

	searchCalls *prometheus.CounterVec
	schemaStmts *prometheus.CounterVec
	graphNodes  *prometheus.GaugeVec
	graphEdges  *prometheus.GaugeVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Current() *Metrics {
	return instance
}

// Init builds the process-wide metrics on first call. It returns nil when
// metrics are disabled.
func Init(log *logger.Logger, enabled bool) *Metrics {
	if !enabled {
		return nil
	}
	initOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		instance = New(reg)
		if log != nil {
			log.Info("metrics initialized")
		}
	})
	return instance
}

// New registers the citegraph collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citegraph_http_requests_total",
			Help: "Total HTTP requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "citegraph_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds by method/route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),
		apiInflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "citegraph_http_inflight_requests",
			Help: "In-flight HTTP requests.",
		}),
		ingestRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citegraph_ingest_records_total",
			Help: "Ingested records by outcome (committed, failed, rejected, parse_error).",
		}, []string{"outcome"}),
		ingestBatches: f.NewCounter(prometheus.CounterOpts{
			Name: "citegraph_ingest_batches_total",
			Help: "Batches processed by the ingestion pool.",
		}),
		ingestRecordDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "citegraph_ingest_record_duration_seconds",
			Help:    "Write transaction latency per paper record.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}),
		ingestRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "citegraph_ingest_records_per_second",
			Help: "Throughput of the last finished ingestion run.",
		}),
		ingestRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citegraph_ingest_runs_total",
			Help: "Ingestion runs by status.",
		}, []string{"status"}),
		lookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citegraph_lookups_total",
			Help: "Search proxy lookups issued by the traversal engine.",
		}, []string{"operation", "status"}),
		lookupLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "citegraph_lookup_duration_seconds",
			Help:    "Search proxy lookup latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"operation"}),
		lineageNodes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citegraph_lineage_nodes_total",
			Help: "Lineage tree nodes assembled by direction.",
		}, []string{"direction"}),
		searchCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citegraph_search_backend_calls_total",
			Help: "Calls to the search backend by operation/status.",
		}, []string{"operation", "status"}),
		schemaStmts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citegraph_schema_statements_total",
			Help: "Schema statements by result.",
		}, []string{"result"}),
		graphNodes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "citegraph_graph_nodes",
			Help: "Node counts by label at last stats refresh.",
		}, []string{"label"}),
		graphEdges: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "citegraph_graph_edges",
			Help: "Edge counts by type at last stats refresh.",
		}, []string{"type"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	m.apiRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}

func (m *Metrics) APIInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) APIInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveRecord(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.ingestRecords.WithLabelValues(outcome).Inc()
	if dur > 0 {
		m.ingestRecordDur.Observe(dur.Seconds())
	}
}

func (m *Metrics) AddRecords(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingestRecords.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) IncBatch() {
	if m == nil {
		return
	}
	m.ingestBatches.Inc()
}

func (m *Metrics) ObserveRun(status string, recordsPerSecond float64) {
	if m == nil {
		return
	}
	m.ingestRuns.WithLabelValues(status).Inc()
	m.ingestRate.Set(recordsPerSecond)
}

func (m *Metrics) ObserveLookup(operation, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(operation, status).Inc()
	m.lookupLatency.WithLabelValues(operation).Observe(dur.Seconds())
}

func (m *Metrics) AddLineageNodes(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.lineageNodes.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) IncSearchCall(operation, status string) {
	if m == nil {
		return
	}
	m.searchCalls.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) IncSchemaStatement(result string) {
	if m == nil {
		return
	}
	m.schemaStmts.WithLabelValues(result).Inc()
}

func (m *Metrics) SetGraphCounts(nodes, edges map[string]int64) {
	if m == nil {
		return
	}
	for label, n := range nodes {
		m.graphNodes.WithLabelValues(label).Set(float64(n))
	}
	for typ, n := range edges {
		m.graphEdges.WithLabelValues(typ).Set(float64(n))
	}
}
