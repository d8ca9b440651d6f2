package handlers

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/vkadlec/species-curator/internal/phash"
)

// SpeciesHandler serves the collection overview and raw image bytes.
type SpeciesHandler struct {
	services Services
}

// NewSpeciesHandler creates a new species handler.
func NewSpeciesHandler(services Services) *SpeciesHandler {
	return &SpeciesHandler{services: services}
}

// SpeciesSummary describes one species for the dashboard.
type SpeciesSummary struct {
	Name          string `json:"name"`
	ImageCount    int    `json:"image_count"`
	HasEmbeddings bool   `json:"has_embeddings"`
}

// DashboardResponse is the collection-wide summary.
type DashboardResponse struct {
	Species        []SpeciesSummary `json:"species"`
	TotalSpecies   int              `json:"total_species"`
	TotalImages    int              `json:"total_images"`
	IndexAvailable bool             `json:"index_available"`
	IndexedVectors int              `json:"indexed_vectors,omitempty"`
	Model          string           `json:"model,omitempty"`
}

// List returns the dashboard summary of the whole collection.
func (h *SpeciesHandler) List(w http.ResponseWriter, r *http.Request) {
	names, err := h.services.Source.SpeciesList()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list species")
		return
	}

	resp := DashboardResponse{
		Species:      make([]SpeciesSummary, 0, len(names)),
		TotalSpecies: len(names),
	}
	if h.services.Store != nil {
		resp.IndexAvailable = true
		resp.IndexedVectors = h.services.Store.Count()
		resp.Model = h.services.Store.Metadata().Model
	}

	for _, name := range names {
		count, err := h.services.Source.CountImages(name)
		if err != nil {
			continue
		}
		resp.TotalImages += count
		resp.Species = append(resp.Species, SpeciesSummary{
			Name:          name,
			ImageCount:    count,
			HasEmbeddings: h.services.Store != nil && h.services.Store.SpeciesCount(name) > 0,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// Get returns the summary of a single species.
func (h *SpeciesHandler) Get(w http.ResponseWriter, r *http.Request) {
	species, ok := resolveSpecies(w, r, h.services.Source)
	if !ok {
		return
	}

	count, err := h.services.Source.CountImages(species)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count images")
		return
	}
	respondJSON(w, http.StatusOK, SpeciesSummary{
		Name:          species,
		ImageCount:    count,
		HasEmbeddings: h.services.Store != nil && h.services.Store.SpeciesCount(species) > 0,
	})
}

// Image serves the raw bytes of one collection image. Only known image
// extensions are served and the resolved path must stay inside the
// collection directory.
func (h *SpeciesHandler) Image(w http.ResponseWriter, r *http.Request) {
	species := chi.URLParam(r, "species")
	filename := chi.URLParam(r, "filename")

	if !phash.SupportedExtension(filename) {
		respondError(w, http.StatusBadRequest, "unsupported image type")
		return
	}

	path, err := h.services.Source.ImagePath(species, filename)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid image path")
		return
	}
	if _, err := os.Stat(path); err != nil {
		respondError(w, http.StatusNotFound, "image not found")
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, path)
}
