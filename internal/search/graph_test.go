package search

import (
	"strings"
	"testing"
)

func TestFilteredQueryReferencesContain(t *testing.T) {
	q, params, err := filteredQuery("", ReferencesContain(42), 1000)
	if err != nil {
		t.Fatalf("filteredQuery: %v", err)
	}
	if !strings.Contains(q, "EXISTS { MATCH (p)-[:CITES]->(:Paper {id: $f0}) }") {
		t.Fatalf("missing references predicate:\n%s", q)
	}
	if params["f0"] != int64(42) || params["limit"] != int64(1000) {
		t.Fatalf("params: %v", params)
	}
	if !strings.Contains(q, "ORDER BY ord") {
		t.Fatalf("rows must keep search order:\n%s", q)
	}
}

func TestFilteredQueryTopicAndRanges(t *testing.T) {
	_, f, err := Query{VenueName: "SIGMOD"}.Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	q, params, err := filteredQuery("graphs", f, 10)
	if err != nil {
		t.Fatalf("filteredQuery: %v", err)
	}
	for _, want := range []string{
		"toLower(p.title) CONTAINS toLower($topic)",
		"p.year >= $f0_lo AND p.year <= $f0_hi",
		"p.n_citation >= $f1_lo AND p.n_citation <= $f1_hi",
		"(v:Venue) WHERE toLower(v.name) CONTAINS toLower($f2)",
	} {
		if !strings.Contains(q, want) {
			t.Fatalf("query missing %q:\n%s", want, q)
		}
	}
	if params["f0_lo"] != int64(DefaultMinYear) || params["f2"] != "SIGMOD" || params["topic"] != "graphs" {
		t.Fatalf("params: %v", params)
	}
}

func TestFilteredQueryRejectsUnknownField(t *testing.T) {
	if _, _, err := filteredQuery("", Equals("publisher_ngram", "x"), 10); err == nil {
		t.Fatalf("expected error for unsupported field")
	}
	if _, _, err := filteredQuery("", Equals(FieldYear, "2000"), 10); err == nil {
		t.Fatalf("expected error for non-range year clause")
	}
	if _, _, err := filteredQuery("", Equals(FieldReferences, "abc"), 10); err == nil {
		t.Fatalf("expected error for non-integer reference")
	}
}

func TestRecordFromRow(t *testing.T) {
	rec := recordFromRow(
		map[string]any{"id": int64(1), "title": "A", "year": int64(2013), "n_citation": int64(4)},
		[]any{int64(2), int64(3)},
		[]any{
			map[string]any{"id": int64(10), "name": "Ada", "organization": "ETH"},
			map[string]any{"id": int64(11), "name": "Grace", "organization": nil},
		},
		map[string]any{"id": int64(100), "name": "VLDB", "type": "C"},
		[]any{map[string]any{"name": "Databases", "weight": 0.5}},
	)
	if rec.ID != 1 || rec.Year != 2013 || rec.NCitation != 4 {
		t.Fatalf("scalars: %+v", rec)
	}
	if len(rec.References) != 2 || rec.References[1] != 3 {
		t.Fatalf("references: %v", rec.References)
	}
	authors := rec.Authors()
	if len(authors) != 2 || authors[1].Name != "Grace" || authors[1].Organization != "" {
		t.Fatalf("authors: %+v", authors)
	}
	if v, ok := rec.Venue(); !ok || v.Name != "VLDB" {
		t.Fatalf("venue: %+v ok=%v", v, ok)
	}
	if f := rec.Fields(); len(f) != 1 || f[0].Weight != 0.5 {
		t.Fatalf("fields: %+v", f)
	}
}

func TestRecordFromRowStubSafe(t *testing.T) {
	rec := recordFromRow(nil, nil, nil, nil, nil)
	if rec.ID != 0 || rec.References != nil {
		t.Fatalf("empty row: %+v", rec)
	}
}
