package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vkadlec/species-curator/internal/deletion"
)

// QueueHandler exposes the deletion queue. Confirm is the only endpoint
// in the whole API that mutates the collection.
type QueueHandler struct {
	services Services
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(services Services) *QueueHandler {
	return &QueueHandler{services: services}
}

// AddRequest stages a single file for deletion.
type AddRequest struct {
	Species  string `json:"species"`
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
	Size     int64  `json:"size"`
}

// AddBulkRequest stages many files under one reason.
type AddBulkRequest struct {
	Files  []deletion.BulkFile `json:"files"`
	Reason string              `json:"reason"`
}

// Get returns the current queue state.
func (h *QueueHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.services.Queue.Queue())
}

// Preview summarizes what a confirm would delete, with warnings for
// large per-species batches.
func (h *QueueHandler) Preview(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.services.Queue.Preview())
}

// Add stages one file. Re-adding a queued path updates its reason.
func (h *QueueHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Species == "" || req.Filename == "" {
		respondError(w, http.StatusBadRequest, "species and filename are required")
		return
	}
	reason := deletion.Reason(req.Reason)
	if req.Reason == "" {
		reason = deletion.ReasonManual
	}
	if !deletion.ValidReason(reason) {
		respondError(w, http.StatusBadRequest, "unknown reason")
		return
	}

	queued := h.services.Queue.Add(req.Species, req.Filename, reason, req.Size)
	respondJSON(w, http.StatusOK, map[string]any{
		"file":        queued,
		"total_count": h.services.Queue.Len(),
	})
}

// AddBulk stages many files, skipping paths already queued.
func (h *QueueHandler) AddBulk(w http.ResponseWriter, r *http.Request) {
	var req AddBulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.Files) == 0 {
		respondError(w, http.StatusBadRequest, "files are required")
		return
	}
	reason := deletion.Reason(req.Reason)
	if !deletion.ValidReason(reason) {
		respondError(w, http.StatusBadRequest, "unknown reason")
		return
	}

	added := h.services.Queue.AddBulk(req.Files, reason)
	respondJSON(w, http.StatusOK, map[string]int{
		"added":       added,
		"total_count": h.services.Queue.Len(),
	})
}

// Remove unstages one file; 404 when it was not queued.
func (h *QueueHandler) Remove(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "species") + "/" + chi.URLParam(r, "filename")
	if !h.services.Queue.Remove(path) {
		respondError(w, http.StatusNotFound, "file not queued")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"removed":     path,
		"total_count": h.services.Queue.Len(),
	})
}

// Clear empties the queue.
func (h *QueueHandler) Clear(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]int{
		"cleared": h.services.Queue.Clear(),
	})
}

// Confirm executes the queued deletions and invalidates the detection
// caches of every affected species.
func (h *QueueHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	result := h.services.Queue.Confirm(func(species string) {
		removed := h.services.Cache.Invalidate(species)
		log.Printf("invalidated %d cache entries for %s", removed, sanitizeForLog(species))
	})
	respondJSON(w, http.StatusOK, result)
}
