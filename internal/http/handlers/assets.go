package handlers

import (
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/go-chi/chi/v5"
)

func (api *API) Manifest(w http.ResponseWriter, r *http.Request) {
	manifest, err := api.distributor.Manifest()
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

func (api *API) AssetFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	path, err := api.distributor.AssetPath(name)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	http.ServeFile(w, r, path)
}
