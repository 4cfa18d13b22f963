package search

import (
	"fmt"
	"strings"

	"github.com/yungbote/citegraph/internal/domain/paper"
)

const (
	DefaultMinYear     = 1930
	DefaultMaxYear     = 2021
	DefaultMinCitation = 0
	DefaultMaxCitation = 1_000_000
	DefaultLimit       = 10
	MaxLimit           = 100
)

// Query is a topic search with optional range and text filters. Nil bounds
// take the corpus defaults.
type Query struct {
	Topic       string
	MinYear     *int
	MaxYear     *int
	MinCitation *int
	MaxCitation *int
	DocType     string
	AuthorName  string
	AuthorOrg   string
	VenueName   string
	Keywords    string
	Limit       int
}

type QueryError struct {
	Param   string
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Message)
}

// Normalize validates q and returns its limit and filter.
func (q Query) Normalize() (int, Filter, error) {
	limit := q.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return 0, Filter{}, &QueryError{Param: "limit", Message: fmt.Sprintf("must be between 1 and %d", MaxLimit)}
	}

	minYear, maxYear := orDefault(q.MinYear, DefaultMinYear), orDefault(q.MaxYear, DefaultMaxYear)
	if minYear > maxYear {
		return 0, Filter{}, &QueryError{Param: "min_year", Message: "must not exceed max_year"}
	}
	minCit, maxCit := orDefault(q.MinCitation, DefaultMinCitation), orDefault(q.MaxCitation, DefaultMaxCitation)
	if minCit > maxCit {
		return 0, Filter{}, &QueryError{Param: "min_citation", Message: "must not exceed max_citation"}
	}
	f := Range(FieldYear, int64(minYear), int64(maxYear)).And(Range(FieldNCitation, int64(minCit), int64(maxCit)))

	if dt := strings.TrimSpace(q.DocType); dt != "" && !strings.EqualFold(dt, "All") {
		if !paper.DocType(dt).Valid() {
			return 0, Filter{}, &QueryError{Param: "publication_type", Message: "must be one of Conference, Journal, Book, All"}
		}
		f = f.And(Equals(FieldDocType, dt))
	}
	for _, c := range []struct{ field, value string }{
		{FieldAuthorNames, q.AuthorName},
		{FieldAuthorOrgs, q.AuthorOrg},
		{FieldVenueName, q.VenueName},
		{FieldFOSNames, q.Keywords},
	} {
		if v := strings.TrimSpace(c.value); v != "" {
			f = f.And(Contains(c.field, v))
		}
	}
	return limit, f, nil
}

func orDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
