package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/iago/dataset-hub/internal/domain"
	"github.com/iago/dataset-hub/internal/http/middleware"
	"github.com/iago/dataset-hub/internal/service"
	"go.uber.org/zap"
)

// Results carry whole generated documents.
const maxSubmissionBytes = 32 << 20

type API struct {
	distributor *service.Distributor
	logger      *zap.Logger
}

func NewAPI(distributor *service.Distributor, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{distributor: distributor, logger: logger}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// writeServiceError maps the domain taxonomy onto HTTP statuses.
func (api *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownPipeline):
		writeError(w, r, http.StatusBadRequest, "unknown_pipeline", err.Error())
	case errors.Is(err, domain.ErrInvalidSubmission):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	default:
		api.logger.Error("request failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
