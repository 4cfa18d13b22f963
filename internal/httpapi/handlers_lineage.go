package httpapi

import (
	"net/http"

	"github.com/yungbote/citegraph/internal/platform/logger"
)

// Hop lengths default to 1; out-of-range values are clamped by the engine.

func handleCitedBy(log *logger.Logger, eng Lineage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		title, err := requiredString(q, "paper_title")
		if err != nil {
			writeParamError(w, err)
			return
		}
		hops, err := intOr(q, "successor_hop_length", 1)
		if err != nil {
			writeParamError(w, err)
			return
		}
		node, err := eng.CitedBy(r.Context(), title, hops)
		if err != nil {
			writeDomainError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, node)
	}
}

func handleRootedIn(log *logger.Logger, eng Lineage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		title, err := requiredString(q, "paper_title")
		if err != nil {
			writeParamError(w, err)
			return
		}
		hops, err := intOr(q, "predecessor_hop_length", 1)
		if err != nil {
			writeParamError(w, err)
			return
		}
		node, err := eng.RootedIn(r.Context(), title, hops)
		if err != nil {
			writeDomainError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, node)
	}
}

func handleLiteratureGraph(log *logger.Logger, eng Lineage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		title, err := requiredString(q, "paper_title")
		if err != nil {
			writeParamError(w, err)
			return
		}
		pred, err := intOr(q, "predecessor_hop_length", 1)
		if err != nil {
			writeParamError(w, err)
			return
		}
		succ, err := intOr(q, "successor_hop_length", 1)
		if err != nil {
			writeParamError(w, err)
			return
		}
		node, err := eng.LiteratureGraph(r.Context(), title, pred, succ)
		if err != nil {
			writeDomainError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, node)
	}
}
