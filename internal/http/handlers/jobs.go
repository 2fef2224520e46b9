package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/iago/dataset-hub/internal/domain"
)

// GetJob hands the oldest pending job to the polling worker, or 204 when
// there is nothing to do.
func (api *API) GetJob(w http.ResponseWriter, r *http.Request) {
	message, ok, err := api.distributor.NextJob(r.Context(), r.URL.Query().Get("worker_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(message)
}

func (api *API) SubmitResult(w http.ResponseWriter, r *http.Request) {
	var submission domain.Submission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmissionBytes)).Decode(&submission); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "body must be a submission object")
		return
	}
	if err := api.distributor.Submit(r.Context(), submission); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "result accepted", "job_id": submission.JobID})
}

// ResubmitJob takes a dead letter's job_context_for_resubmit as its body.
func (api *API) ResubmitJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSubmissionBytes))
	if err != nil || len(strings.TrimSpace(string(body))) == 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job context is required")
		return
	}
	jobID, err := api.distributor.Resubmit(r.Context(), json.RawMessage(body))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "job resubmitted as " + jobID, "job_id": jobID})
}
