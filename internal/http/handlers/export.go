package handlers

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/iago/dataset-hub/internal/domain"
)

func (api *API) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := api.distributor.Stats(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (api *API) DeadLetters(w http.ResponseWriter, r *http.Request) {
	records, err := api.distributor.DeadLetters()
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	if records == nil {
		records = make([]domain.DeadLetter, 0)
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": records})
}

func (api *API) ExportDeadLetters(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := api.distributor.ExportXLSX(r.Context(), &buf); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="dead_letters.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
