package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/yungbote/citegraph/internal/lineage"
	"github.com/yungbote/citegraph/internal/platform/logger"
	"github.com/yungbote/citegraph/internal/search"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string, code string, param string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = http.StatusText(status)
	}

	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorBody{
			Message: msg,
			Code:    strings.TrimSpace(code),
			Param:   strings.TrimSpace(param),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps lookup and traversal errors onto the envelope.
func writeDomainError(w http.ResponseWriter, log *logger.Logger, err error) {
	var qe *search.QueryError
	var oe *search.OperationError
	switch {
	case errors.As(err, &qe):
		writeError(w, http.StatusBadRequest, qe.Error(), "invalid_request", qe.Param)
	case errors.Is(err, lineage.ErrRootNotFound), errors.Is(err, search.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "not_found", "")
	case errors.As(err, &oe) && oe.Code == search.OperationErrorTimeout:
		writeError(w, http.StatusGatewayTimeout, oe.Error(), string(oe.Code), "")
	case errors.As(err, &oe) && oe.Code == search.OperationErrorValidation:
		writeError(w, http.StatusBadRequest, oe.Error(), string(oe.Code), "")
	case errors.As(err, &oe):
		log.Warn("search backend failed", "error", err)
		writeError(w, http.StatusBadGateway, oe.Error(), string(oe.Code), "")
	default:
		log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", "internal_error", "")
	}
}
