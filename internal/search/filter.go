package search

import (
	"fmt"
	"strconv"
	"strings"
)

type ClauseOp int

const (
	// OpEquals matches a field, or any element of an array field, exactly.
	OpEquals ClauseOp = iota
	// OpRange matches numeric fields within [Lo, Hi].
	OpRange
	// OpContains matches text fields containing the value as a token.
	OpContains
)

const (
	FieldReferences  = "references"
	FieldYear        = "year"
	FieldNCitation   = "n_citation"
	FieldDocType     = "doc_type"
	FieldAuthorNames = "author_names_ngram"
	FieldAuthorOrgs  = "author_orgs_ngram"
	FieldVenueName   = "venue_name_ngram"
	FieldFOSNames    = "fos_names_ngram"
)

type Clause struct {
	Field string
	Op    ClauseOp
	Value string
	Lo    int64
	Hi    int64
}

// Filter is a conjunction of clauses. The zero value matches everything.
type Filter struct {
	Clauses []Clause
}

// ReferencesContain matches papers whose reference list contains id.
func ReferencesContain(id int64) Filter {
	return Filter{Clauses: []Clause{{Field: FieldReferences, Op: OpEquals, Value: strconv.FormatInt(id, 10)}}}
}

func Range(field string, lo, hi int64) Filter {
	return Filter{Clauses: []Clause{{Field: field, Op: OpRange, Lo: lo, Hi: hi}}}
}

func Equals(field, value string) Filter {
	return Filter{Clauses: []Clause{{Field: field, Op: OpEquals, Value: value}}}
}

func Contains(field, value string) Filter {
	return Filter{Clauses: []Clause{{Field: field, Op: OpContains, Value: value}}}
}

// And returns the conjunction of f and g without modifying either.
func (f Filter) And(g Filter) Filter {
	out := make([]Clause, 0, len(f.Clauses)+len(g.Clauses))
	out = append(out, f.Clauses...)
	out = append(out, g.Clauses...)
	return Filter{Clauses: out}
}

func (f Filter) IsZero() bool { return len(f.Clauses) == 0 }

// String renders the Marqo filter-string syntax. A single clause is
// rendered bare; several are parenthesized and joined with AND.
func (f Filter) String() string {
	switch len(f.Clauses) {
	case 0:
		return ""
	case 1:
		return f.Clauses[0].String()
	}
	parts := make([]string, 0, len(f.Clauses))
	for _, c := range f.Clauses {
		parts = append(parts, "("+c.String()+")")
	}
	return strings.Join(parts, " AND ")
}

func (c Clause) String() string {
	if c.Op == OpRange {
		return fmt.Sprintf("%s:[%d TO %d]", c.Field, c.Lo, c.Hi)
	}
	return fmt.Sprintf("%s:(%s)", c.Field, escapeValue(c.Value))
}

var filterEscaper = strings.NewReplacer(
	`\`, `\\`,
	`(`, `\(`,
	`)`, `\)`,
	`[`, `\[`,
	`]`, `\]`,
	`:`, `\:`,
	`"`, `\"`,
)

func escapeValue(v string) string {
	return filterEscaper.Replace(strings.TrimSpace(v))
}
