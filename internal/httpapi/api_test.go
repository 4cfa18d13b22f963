package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yungbote/citegraph/internal/domain/paper"
	"github.com/yungbote/citegraph/internal/graphstore"
	"github.com/yungbote/citegraph/internal/lineage"
	"github.com/yungbote/citegraph/internal/observability"
	"github.com/yungbote/citegraph/internal/platform/logger"
	"github.com/yungbote/citegraph/internal/search"
)

type fakeService struct {
	records   map[int64]paper.Record
	lastQuery search.Query
	searchErr error
}

func (s *fakeService) GetByID(_ context.Context, id int64) (*paper.Record, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, search.ErrNotFound
	}
	return &rec, nil
}

func (s *fakeService) SearchBestMatch(_ context.Context, text string) (*paper.Record, error) {
	for _, rec := range s.records {
		if rec.Title == text {
			r := rec
			return &r, nil
		}
	}
	return nil, search.ErrNotFound
}

func (s *fakeService) SearchFiltered(_ context.Context, f search.Filter, limit int) ([]paper.Record, error) {
	var out []paper.Record
	for _, id := range []int64{1, 2, 3} {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		for _, r := range rec.References {
			if f.String() == search.ReferencesContain(r).String() {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

func (s *fakeService) Search(_ context.Context, q search.Query) (*search.Page, error) {
	s.lastQuery = q
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	if _, _, err := q.Normalize(); err != nil {
		return nil, err
	}
	rec := s.records[1]
	return &search.Page{Results: []paper.Record{rec}, Count: 1, TookMS: 7}, nil
}

func (s *fakeService) Count(context.Context) (int64, error) {
	return int64(len(s.records)), nil
}

func testDeps(t *testing.T) (Deps, *fakeService) {
	t.Helper()
	svc := &fakeService{records: map[int64]paper.Record{
		1: {ID: 1, Title: "A", References: []int64{3}},
		2: {ID: 2, Title: "B", References: []int64{1}},
		3: {ID: 3, Title: "C"},
	}}
	return Deps{
		Search:  svc,
		Lineage: lineage.NewEngine(svc, lineage.Options{}, nil, nil),
	}, svc
}

func do(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var env errorEnvelope
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode error envelope: %v body=%s", err, rr.Body.String())
	}
	return env.Error
}

func TestHealthAndRequestID(t *testing.T) {
	deps, _ := testDeps(t)
	h := NewHandler(nil, deps)

	rr := do(t, h, "/healthz")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz: status=%d body=%q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatalf("missing X-Request-Id")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-Id"); got != "abc-123" {
		t.Fatalf("request id not propagated: %q", got)
	}
}

func TestReadyzReportsDependencyFailure(t *testing.T) {
	deps, _ := testDeps(t)
	deps.Ready = func(context.Context) error { return errors.New("neo4j unreachable") }
	rr := do(t, NewHandler(nil, deps), "/readyz")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
	if e := decodeError(t, rr); e.Code != "not_ready" {
		t.Fatalf("error: %+v", e)
	}
}

func TestPaperByID(t *testing.T) {
	deps, _ := testDeps(t)
	h := NewHandler(nil, deps)

	rr := do(t, h, "/v1/papers/3")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var rec paper.Record
	if err := json.NewDecoder(rr.Body).Decode(&rec); err != nil || rec.ID != 3 || rec.Title != "C" {
		t.Fatalf("record: %+v err=%v", rec, err)
	}

	rr = do(t, h, "/v1/papers/99")
	if rr.Code != http.StatusNotFound || decodeError(t, rr).Code != "not_found" {
		t.Fatalf("missing paper: status=%d", rr.Code)
	}

	rr = do(t, h, "/v1/papers/abc")
	if rr.Code != http.StatusBadRequest || decodeError(t, rr).Param != "id" {
		t.Fatalf("bad id: status=%d", rr.Code)
	}
}

func TestPaperByTitleRequiresTitle(t *testing.T) {
	deps, _ := testDeps(t)
	h := NewHandler(nil, deps)

	rr := do(t, h, "/v1/papers")
	if rr.Code != http.StatusBadRequest || decodeError(t, rr).Param != "title" {
		t.Fatalf("status=%d", rr.Code)
	}
	rr = do(t, h, "/v1/papers?title=B")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"id":2`) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSearchPapersParsesFilters(t *testing.T) {
	deps, svc := testDeps(t)
	h := NewHandler(nil, deps)

	rr := do(t, h, "/v1/papers/search?research_topic=graphs&min_year=2000&publication_type=Journal&limit=5")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	q := svc.lastQuery
	if q.Topic != "graphs" || q.MinYear == nil || *q.MinYear != 2000 || q.MaxYear != nil || q.DocType != "Journal" || q.Limit != 5 {
		t.Fatalf("query: %+v", q)
	}
	var page struct {
		Count  int   `json:"cnt_result"`
		TookMS int64 `json:"time_miliseconds"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&page); err != nil || page.Count != 1 || page.TookMS != 7 {
		t.Fatalf("page: %+v err=%v", page, err)
	}
}

func TestSearchPapersValidation(t *testing.T) {
	deps, _ := testDeps(t)
	h := NewHandler(nil, deps)

	rr := do(t, h, "/v1/papers/search?min_year=soon")
	if rr.Code != http.StatusBadRequest || decodeError(t, rr).Param != "min_year" {
		t.Fatalf("non-integer: status=%d", rr.Code)
	}
	rr = do(t, h, "/v1/papers/search?limit=500")
	if rr.Code != http.StatusBadRequest || decodeError(t, rr).Param != "limit" {
		t.Fatalf("limit: status=%d", rr.Code)
	}
}

func TestSearchBackendErrorsMapToGatewayStatus(t *testing.T) {
	deps, svc := testDeps(t)
	h := NewHandler(nil, deps)

	svc.searchErr = &search.OperationError{Code: search.OperationErrorTransportFailed, Operation: "search_topic"}
	if rr := do(t, h, "/v1/papers/search"); rr.Code != http.StatusBadGateway {
		t.Fatalf("transport: status=%d", rr.Code)
	}
	svc.searchErr = &search.OperationError{Code: search.OperationErrorTimeout, Operation: "search_topic"}
	if rr := do(t, h, "/v1/papers/search"); rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("timeout: status=%d", rr.Code)
	}
	svc.searchErr = errors.New("boom")
	rr := do(t, h, "/v1/papers/search")
	if rr.Code != http.StatusInternalServerError || decodeError(t, rr).Message != "internal server error" {
		t.Fatalf("internal: status=%d", rr.Code)
	}
}

func TestLineageGraph(t *testing.T) {
	deps, _ := testDeps(t)
	h := NewHandler(nil, deps)

	rr := do(t, h, "/v1/lineage/graph?paper_title=A&predecessor_hop_length=2&successor_hop_length=1")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var out struct {
		ID    int64 `json:"id"`
		Cites []struct {
			ID    int64             `json:"id"`
			Cites []json.RawMessage `json:"cites"`
		} `json:"cites"`
		CitedBy []struct {
			ID int64 `json:"id"`
		} `json:"cited_by"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID != 1 || len(out.Cites) != 1 || out.Cites[0].ID != 3 || len(out.CitedBy) != 1 || out.CitedBy[0].ID != 2 {
		t.Fatalf("tree: %+v", out)
	}
	if out.Cites[0].Cites == nil || len(out.Cites[0].Cites) != 0 {
		t.Fatalf("leaf must render an empty cites list: %+v", out.Cites[0])
	}
}

func TestLineageDirections(t *testing.T) {
	deps, _ := testDeps(t)
	h := NewHandler(nil, deps)

	rr := do(t, h, "/v1/lineage/cited-by?paper_title=C&successor_hop_length=3")
	if rr.Code != http.StatusOK {
		t.Fatalf("cited-by status=%d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"cited_by":[{"id":1`) || strings.Contains(body, `"cites":`) {
		t.Fatalf("cited-by body: %s", body)
	}

	rr = do(t, h, "/v1/lineage/rooted-in?paper_title=B")
	if rr.Code != http.StatusOK {
		t.Fatalf("rooted-in status=%d", rr.Code)
	}
	body = rr.Body.String()
	if !strings.Contains(body, `"cites":[{"id":1`) || strings.Contains(body, `"cited_by":`) {
		t.Fatalf("rooted-in body: %s", body)
	}
}

func TestLineageErrors(t *testing.T) {
	deps, _ := testDeps(t)
	h := NewHandler(nil, deps)

	rr := do(t, h, "/v1/lineage/cited-by?paper_title=Nope")
	if rr.Code != http.StatusNotFound || decodeError(t, rr).Code != "not_found" {
		t.Fatalf("root not found: status=%d", rr.Code)
	}
	rr = do(t, h, "/v1/lineage/rooted-in")
	if rr.Code != http.StatusBadRequest || decodeError(t, rr).Param != "paper_title" {
		t.Fatalf("missing title: status=%d", rr.Code)
	}
	rr = do(t, h, "/v1/lineage/graph?paper_title=A&successor_hop_length=x")
	if rr.Code != http.StatusBadRequest || decodeError(t, rr).Param != "successor_hop_length" {
		t.Fatalf("bad hops: status=%d", rr.Code)
	}
}

func TestStatsAndFields(t *testing.T) {
	deps, _ := testDeps(t)
	store := graphstore.NewMemoryStore()
	ctx := context.Background()
	if err := store.ExecuteWrite(ctx, func(tx graphstore.Tx) error {
		return tx.MergeNode(ctx, graphstore.PaperRef(1), map[string]any{"title": "A"}, graphstore.FillMissing)
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	deps.Graph = store
	h := NewHandler(nil, deps)

	rr := do(t, h, "/v1/stats")
	var stats statsResponse
	if err := json.NewDecoder(rr.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalPapers != 3 || stats.Nodes[graphstore.LabelPaper] != 1 {
		t.Fatalf("stats: %+v", stats)
	}

	rr = do(t, h, "/v1/fields")
	if !strings.Contains(rr.Body.String(), `"n_citation"`) {
		t.Fatalf("fields: %s", rr.Body.String())
	}
}

type indexedService struct {
	*fakeService
	info map[string]any
}

func (s *indexedService) IndexInfo(context.Context) (map[string]any, error) {
	return s.info, nil
}

func TestIndexInfo(t *testing.T) {
	deps, svc := testDeps(t)

	rr := do(t, NewHandler(nil, deps), "/v1/index")
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status without index stats: want=501 got=%d", rr.Code)
	}
	if body := decodeError(t, rr); body.Code != "not_supported" {
		t.Fatalf("error code: %+v", body)
	}

	deps.Search = &indexedService{fakeService: svc, info: map[string]any{
		"numberOfDocuments": 3,
		"numberOfVectors":   3,
	}}
	rr = do(t, NewHandler(nil, deps), "/v1/index")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d body=%s", rr.Code, rr.Body.String())
	}
	var info map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info["numberOfDocuments"] != float64(3) {
		t.Fatalf("info: %v", info)
	}
}

func TestMetricsEndpointCountsRoutes(t *testing.T) {
	deps, _ := testDeps(t)
	deps.Metrics = observability.New(prometheus.NewRegistry())
	h := NewHandler(nil, deps)

	do(t, h, "/v1/papers/1")
	rr := do(t, h, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	want := `citegraph_http_requests_total{method="GET",route="GET /v1/papers/{id}",status="200"} 1`
	if !strings.Contains(rr.Body.String(), want) {
		t.Fatalf("metrics missing %q:\n%s", want, rr.Body.String())
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := recoverMiddleware(logger.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := do(t, h, "/")
	if rr.Code != http.StatusInternalServerError || decodeError(t, rr).Code != "internal_error" {
		t.Fatalf("status=%d", rr.Code)
	}
}
