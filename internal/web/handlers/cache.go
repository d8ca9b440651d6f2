package handlers

import "net/http"

// CacheHandler exposes detection cache maintenance.
type CacheHandler struct {
	services Services
}

// NewCacheHandler creates a new cache handler.
func NewCacheHandler(services Services) *CacheHandler {
	return &CacheHandler{services: services}
}

// Stats returns entry counts per cache.
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.services.Cache.Stats())
}

// Clear drops all cached hashes and embeddings.
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.services.Cache.Clear()
	respondJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}
