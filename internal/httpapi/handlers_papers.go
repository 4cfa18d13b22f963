package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/yungbote/citegraph/internal/graphstore"
	"github.com/yungbote/citegraph/internal/observability"
	"github.com/yungbote/citegraph/internal/platform/logger"
	"github.com/yungbote/citegraph/internal/search"
)

func handlePaperByID(log *logger.Logger, svc search.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue("id")), 10, 64)
		if err != nil || id == 0 {
			writeError(w, http.StatusBadRequest, "paper id must be a non-zero integer", "invalid_request", "id")
			return
		}
		rec, err := svc.GetByID(r.Context(), id)
		if err != nil {
			writeDomainError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handlePaperByTitle(log *logger.Logger, svc search.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		title, err := requiredString(r.URL.Query(), "title")
		if err != nil {
			writeParamError(w, err)
			return
		}
		rec, err := svc.SearchBestMatch(r.Context(), title)
		if err != nil {
			writeDomainError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleSearchPapers(log *logger.Logger, svc search.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query := search.Query{
			Topic:      strings.TrimSpace(q.Get("research_topic")),
			DocType:    strings.TrimSpace(q.Get("publication_type")),
			AuthorName: strings.TrimSpace(q.Get("author_name")),
			AuthorOrg:  strings.TrimSpace(q.Get("author_organization")),
			VenueName:  strings.TrimSpace(q.Get("venue_name")),
			Keywords:   strings.TrimSpace(q.Get("keywords")),
		}
		var err error
		for _, p := range []struct {
			name string
			dst  **int
		}{
			{"min_year", &query.MinYear},
			{"max_year", &query.MaxYear},
			{"min_citation", &query.MinCitation},
			{"max_citation", &query.MaxCitation},
		} {
			if *p.dst, err = optionalInt(q, p.name); err != nil {
				writeParamError(w, err)
				return
			}
		}
		if query.Limit, err = intOr(q, "limit", search.DefaultLimit); err != nil {
			writeParamError(w, err)
			return
		}

		page, err := svc.Search(r.Context(), query)
		if err != nil {
			writeDomainError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func handleFields(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"fields": search.Fields})
}

type statsResponse struct {
	TotalPapers int64            `json:"total_papers"`
	Nodes       map[string]int64 `json:"nodes,omitempty"`
	Edges       map[string]int64 `json:"edges,omitempty"`
}

func handleStats(log *logger.Logger, svc search.Service, graph graphstore.Store, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		total, err := svc.Count(r.Context())
		if err != nil {
			writeDomainError(w, log, err)
			return
		}
		out := statsResponse{TotalPapers: total}
		if graph != nil {
			counts, err := graph.Counts(r.Context())
			if err != nil {
				log.Warn("graph counts unavailable", "error", err)
			} else {
				out.Nodes, out.Edges = counts.Nodes, counts.Edges
				metrics.SetGraphCounts(counts.Nodes, counts.Edges)
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// indexInfoer is implemented by backends that expose raw index statistics.
type indexInfoer interface {
	IndexInfo(ctx context.Context) (map[string]any, error)
}

func handleIndexInfo(log *logger.Logger, svc search.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ii, ok := svc.(indexInfoer)
		if !ok {
			writeError(w, http.StatusNotImplemented, "search backend has no index statistics", "not_supported", "")
			return
		}
		info, err := ii.IndexInfo(r.Context())
		if err != nil {
			writeDomainError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

func writeParamError(w http.ResponseWriter, err error) {
	var pe *paramError
	if errors.As(err, &pe) {
		writeError(w, http.StatusBadRequest, pe.Error(), "invalid_request", pe.param)
		return
	}
	writeError(w, http.StatusBadRequest, err.Error(), "invalid_request", "")
}
