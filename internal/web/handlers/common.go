// Package handlers implements the HTTP handlers of the curation API.
// Every handler receives its services by injection; there is no shared
// global state in this package beyond the per-server job manager.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vkadlec/species-curator/internal/deletion"
	"github.com/vkadlec/species-curator/internal/detect"
	"github.com/vkadlec/species-curator/internal/library"
	"github.com/vkadlec/species-curator/internal/vecindex"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// Services bundles the injected domain services the handlers operate on.
type Services struct {
	Source     *library.Source
	Cache      *detect.Cache
	Duplicates *detect.DuplicateService
	Similarity *detect.SimilarityService
	Outliers   *detect.OutlierService
	Combined   *detect.CombinedService
	Queue      *deletion.Service

	// Store is nil until an embedding index has been built.
	Store *vecindex.Store
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// resolveSpecies maps the species URL parameter to an existing
// directory name, answering 404 when no match exists.
func resolveSpecies(w http.ResponseWriter, r *http.Request, source *library.Source) (string, bool) {
	name := chi.URLParam(r, "species")
	species, err := source.Resolve(name)
	if err != nil {
		respondError(w, http.StatusNotFound, "species not found")
		return "", false
	}
	return species, true
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
