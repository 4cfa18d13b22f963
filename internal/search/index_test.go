package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"sync"
	"testing"

	"github.com/yungbote/citegraph/internal/domain/paper"
	"github.com/yungbote/citegraph/internal/platform/logger"
)

type marqoRecorder struct {
	mu       sync.Mutex
	created  map[string]any
	docCalls [][]map[string]any
	exists   bool
	rejectID string
}

func (m *marqoRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/indexes/papers":
		if m.exists {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"Index papers already exists","code":"index_already_exists"}`))
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&m.created)
		_, _ = w.Write([]byte(`{"acknowledged":true,"index":"papers"}`))
	case r.Method == http.MethodGet && r.URL.Path == "/indexes/papers/stats":
		_, _ = w.Write([]byte(`{"numberOfDocuments":42,"numberOfVectors":84,"backend":{"memoryUsedPercentage":1.5}}`))
	case r.Method == http.MethodPost && r.URL.Path == "/indexes/papers/documents":
		var body struct {
			Documents []map[string]any `json:"documents"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		m.docCalls = append(m.docCalls, body.Documents)
		type item struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  string `json:"error,omitempty"`
		}
		resp := struct {
			Errors bool   `json:"errors"`
			Items  []item `json:"items"`
		}{}
		for _, doc := range body.Documents {
			id, _ := doc["_id"].(string)
			if id == m.rejectID {
				resp.Errors = true
				resp.Items = append(resp.Items, item{ID: id, Status: 400, Error: "invalid field"})
				continue
			}
			resp.Items = append(resp.Items, item{ID: id, Status: 200})
		}
		_ = json.NewEncoder(w).Encode(resp)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newServedMarqoClient(t *testing.T, rec *marqoRecorder, createIndex bool) *MarqoClient {
	t.Helper()
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)
	c, err := NewMarqoClient(context.Background(), logger.NewNop(), MarqoConfig{
		URL:         srv.URL,
		Index:       "papers",
		CreateIndex: createIndex,
	}, nil)
	if err != nil {
		t.Fatalf("NewMarqoClient: %v", err)
	}
	return c
}

func TestNewMarqoClientCreatesStructuredIndex(t *testing.T) {
	rec := &marqoRecorder{}
	newServedMarqoClient(t, rec, true)

	body := rec.created
	if body == nil {
		t.Fatalf("index was not created")
	}
	if body["type"] != "structured" || body["model"] != defaultIndexModel || body["normalizeEmbeddings"] != true {
		t.Fatalf("index settings: %v", body)
	}
	if got := body["tensorFields"]; !reflect.DeepEqual(got, []any{"title"}) {
		t.Fatalf("tensorFields: %v", got)
	}
	tp, _ := body["textPreprocessing"].(map[string]any)
	if tp["splitMethod"] != "passage" || tp["splitLength"] != float64(10) || tp["splitOverlap"] != float64(0) {
		t.Fatalf("textPreprocessing: %v", tp)
	}

	fields := map[string]map[string]any{}
	all, _ := body["allFields"].([]any)
	for _, f := range all {
		m := f.(map[string]any)
		fields[m["name"].(string)] = m
	}
	if len(fields) != len(PaperFields()) {
		t.Fatalf("allFields: want=%d got=%d", len(PaperFields()), len(fields))
	}
	for name, wantType := range map[string]string{
		"id":             "long",
		"title":          "text",
		"references":     "array<long>",
		"fos_ws":         "array<float>",
		FieldAuthorNames: "array<text>",
		FieldVenueName:   "array<text>",
	} {
		if got := fields[name]["type"]; got != wantType {
			t.Fatalf("%s type: want=%s got=%v", name, wantType, got)
		}
	}
	if got := fields[FieldAuthorOrgs]["features"]; !reflect.DeepEqual(got, []any{"filter", "lexical_search"}) {
		t.Fatalf("%s features: %v", FieldAuthorOrgs, got)
	}
}

func TestCreateIndexToleratesExistingIndex(t *testing.T) {
	rec := &marqoRecorder{exists: true}
	c := newServedMarqoClient(t, rec, true)

	created, err := c.CreateIndex(context.Background())
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if created {
		t.Fatalf("existing index reported as created")
	}
}

func TestAddDocumentsBatchesAndDerivesNgrams(t *testing.T) {
	rec := &marqoRecorder{rejectID: "7"}
	c := newServedMarqoClient(t, rec, false)

	recs := make([]paper.Record, 250)
	for i := range recs {
		recs[i] = paper.Record{ID: int64(i + 1), Title: "Paper " + strconv.Itoa(i+1)}
	}
	recs[0].AuthorNames = []string{"Geoffrey E. Hinton", "Yann LeCun"}
	recs[0].AuthorOrgs = []string{"University of Toronto"}
	recs[0].VenueName = "Neural Computation"
	recs[0].FOSNames = []string{"Deep learning"}

	errs := c.AddDocuments(context.Background(), recs)
	if len(errs) != len(recs) {
		t.Fatalf("errs: want=%d got=%d", len(recs), len(errs))
	}
	for i, err := range errs {
		if i == 6 {
			if err == nil {
				t.Fatalf("rejected document 7 reported as accepted")
			}
			continue
		}
		if err != nil {
			t.Fatalf("record %d: %v", i+1, err)
		}
	}

	var sizes []int
	for _, docs := range rec.docCalls {
		sizes = append(sizes, len(docs))
	}
	if !reflect.DeepEqual(sizes, []int{100, 100, 50}) {
		t.Fatalf("request sizes: %v", sizes)
	}

	first := rec.docCalls[0][0]
	if first["_id"] != "1" || first["id"] != float64(1) || first["title"] != "Paper 1" {
		t.Fatalf("document identity: %v", first)
	}
	for field, want := range map[string][]any{
		FieldAuthorNames: {"Geoffrey", "Geoffrey Hinton", "Hinton", "LeCun", "Yann", "Yann LeCun"},
		FieldAuthorOrgs:  {"Toronto", "University", "University of", "University of Toronto", "of", "of Toronto"},
		FieldVenueName:   {"Computation", "Neural", "Neural Computation"},
		FieldFOSNames:    {"Deep", "Deep learning", "learning"},
	} {
		if got := first[field]; !reflect.DeepEqual(got, want) {
			t.Fatalf("%s: want=%v got=%v", field, want, got)
		}
	}
	if _, ok := rec.docCalls[0][1][FieldAuthorNames]; ok {
		t.Fatalf("empty ngram field should be omitted: %v", rec.docCalls[0][1])
	}
}

func TestIndexerApplyReportsRejection(t *testing.T) {
	rec := &marqoRecorder{rejectID: "3"}
	ix := NewIndexer(newServedMarqoClient(t, rec, false))

	if err := ix.Apply(context.Background(), &paper.Record{ID: 2, Title: "B"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := ix.Apply(context.Background(), &paper.Record{ID: 3, Title: "C"}); err == nil {
		t.Fatalf("expected rejection for document 3")
	}
}

func TestIndexInfoReturnsRawStats(t *testing.T) {
	c := newServedMarqoClient(t, &marqoRecorder{}, false)
	info, err := c.IndexInfo(context.Background())
	if err != nil {
		t.Fatalf("IndexInfo: %v", err)
	}
	if info["numberOfDocuments"] != float64(42) {
		t.Fatalf("info: %v", info)
	}
	if _, ok := info["backend"].(map[string]any); !ok {
		t.Fatalf("nested stats dropped: %v", info)
	}
}

func TestNgrams(t *testing.T) {
	cases := []struct {
		name       string
		texts      []string
		minN, maxN int
		want       []string
	}{
		{
			name:  "single character words are dropped",
			texts: []string{"Geoffrey E. Hinton"},
			minN:  1, maxN: 2,
			want: []string{"Geoffrey", "Geoffrey Hinton", "Hinton"},
		},
		{
			name:  "duplicates across texts collapse",
			texts: []string{"Deep Learning", "Deep Learning"},
			minN:  1, maxN: 2,
			want: []string{"Deep", "Deep Learning", "Learning"},
		},
		{
			name:  "case is preserved and sorted bytewise",
			texts: []string{"data Data"},
			minN:  1, maxN: 1,
			want: []string{"Data", "data"},
		},
		{
			name:  "unicode letters",
			texts: []string{"Müller-Straße"},
			minN:  1, maxN: 2,
			want: []string{"Müller", "Müller Straße", "Straße"},
		},
		{
			name:  "no words",
			texts: []string{"", "a b", "-"},
			minN:  1, maxN: 3,
			want: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Ngrams(tc.texts, tc.minN, tc.maxN)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("want=%q got=%q", tc.want, got)
			}
		})
	}

	venue := Ngrams([]string{"IEEE Transactions on Neural Networks"}, 1, 4)
	if len(venue) != 5+4+3+2 {
		t.Fatalf("venue ngrams: %d %q", len(venue), venue)
	}
}
