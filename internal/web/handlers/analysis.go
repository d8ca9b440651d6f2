package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vkadlec/species-curator/internal/config"
	"github.com/vkadlec/species-curator/internal/detect"
	"github.com/vkadlec/species-curator/internal/vecindex"
)

// AnalysisHandler serves the detection endpoints. Query parameters are
// validated against the embedded parameter metadata, which also
// supplies the defaults.
type AnalysisHandler struct {
	config   *config.Config
	services Services
}

// NewAnalysisHandler creates a new analysis handler.
func NewAnalysisHandler(cfg *config.Config, services Services) *AnalysisHandler {
	return &AnalysisHandler{config: cfg, services: services}
}

// Parameters returns the tunable analysis parameters with their bounds
// and defaults.
func (h *AnalysisHandler) Parameters(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"parameters": h.config.Parameters.Parameters,
	})
}

// Hashes returns the per-image perceptual hashes of one species without
// any grouping.
func (h *AnalysisHandler) Hashes(w http.ResponseWriter, r *http.Request) {
	species, ok := resolveSpecies(w, r, h.services.Source)
	if !ok {
		return
	}
	hashSize, err := h.intQuery(r, "hash_size", "hash_size")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.services.Duplicates.SpeciesHashes(r.Context(), species, hashSize)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "hash scan failed")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Duplicates runs duplicate detection for one species.
func (h *AnalysisHandler) Duplicates(w http.ResponseWriter, r *http.Request) {
	species, ok := resolveSpecies(w, r, h.services.Source)
	if !ok {
		return
	}
	opts, err := h.duplicateOptions(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.services.Duplicates.FindDuplicates(r.Context(), species, opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "duplicate scan failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Similar runs similarity detection for one species, answering from the
// embedding index when one is loaded.
func (h *AnalysisHandler) Similar(w http.ResponseWriter, r *http.Request) {
	species, ok := resolveSpecies(w, r, h.services.Source)
	if !ok {
		return
	}
	threshold, err := h.floatQuery(r, "threshold", "similarity_threshold")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.services.Similarity.FindSimilar(r.Context(), species, threshold)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		respondError(w, http.StatusInternalServerError, "similarity scan failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Outliers runs centroid-distance outlier detection for one species.
func (h *AnalysisHandler) Outliers(w http.ResponseWriter, r *http.Request) {
	species, ok := resolveSpecies(w, r, h.services.Source)
	if !ok {
		return
	}
	percentile, err := h.floatQuery(r, "percentile", "threshold_percentile")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.services.Outliers.DetectOutliers(species, percentile)
	if err != nil {
		if errors.Is(err, detect.ErrOutliersUnavailable) {
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "outlier scan failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Combined merges all three detection types for one species.
func (h *AnalysisHandler) Combined(w http.ResponseWriter, r *http.Request) {
	species, ok := resolveSpecies(w, r, h.services.Source)
	if !ok {
		return
	}
	dupOpts, err := h.duplicateOptions(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	threshold, err := h.floatQuery(r, "threshold", "similarity_threshold")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	percentile, err := h.floatQuery(r, "percentile", "threshold_percentile")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.services.Combined.Analyze(r.Context(), species, detect.CombinedOptions{
		HashSize:            dupOpts.HashSize,
		HammingThreshold:    dupOpts.HammingThreshold,
		Exact:               dupOpts.Exact,
		SimilarityThreshold: threshold,
		ThresholdPercentile: percentile,
	})
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		respondError(w, http.StatusInternalServerError, "combined analysis failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Neighbors returns the k nearest indexed images to one image.
func (h *AnalysisHandler) Neighbors(w http.ResponseWriter, r *http.Request) {
	if h.services.Store == nil {
		respondError(w, http.StatusServiceUnavailable, "embedding index not available")
		return
	}
	species, ok := resolveSpecies(w, r, h.services.Source)
	if !ok {
		return
	}
	filename := chi.URLParam(r, "filename")

	k := 10
	if raw := r.URL.Query().Get("k"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 100 {
			respondError(w, http.StatusBadRequest, "k must be an integer between 1 and 100")
			return
		}
		k = v
	}

	neighbors, err := h.services.Store.Neighbors(species, filename, k)
	if err != nil {
		if errors.Is(err, vecindex.ErrNotIndexed) {
			respondError(w, http.StatusNotFound, "image not indexed")
			return
		}
		respondError(w, http.StatusInternalServerError, "neighbor search failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"species":   species,
		"filename":  filename,
		"neighbors": neighbors,
	})
}

// duplicateOptions parses the duplicate detection query parameters.
func (h *AnalysisHandler) duplicateOptions(r *http.Request) (detect.DuplicateOptions, error) {
	hashSize, err := h.intQuery(r, "hash_size", "hash_size")
	if err != nil {
		return detect.DuplicateOptions{}, err
	}
	hamming, err := h.intQuery(r, "hamming_threshold", "hamming_threshold")
	if err != nil {
		return detect.DuplicateOptions{}, err
	}
	return detect.DuplicateOptions{
		HashSize:         hashSize,
		HammingThreshold: hamming,
		Exact:            r.URL.Query().Get("exact") == "true",
	}, nil
}

// intQuery reads an integer query parameter, falling back to the
// embedded default and rejecting out-of-range values.
func (h *AnalysisHandler) intQuery(r *http.Request, query, param string) (int, error) {
	info, _ := h.config.Parameter(param)
	raw := r.URL.Query().Get(query)
	if raw == "" {
		return int(info.Default), nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || !info.InRange(float64(v)) {
		return 0, fmt.Errorf("%s must be an integer between %g and %g", query, info.Min, info.Max)
	}
	return v, nil
}

// floatQuery reads a float query parameter with the same rules.
func (h *AnalysisHandler) floatQuery(r *http.Request, query, param string) (float64, error) {
	info, _ := h.config.Parameter(param)
	raw := r.URL.Query().Get(query)
	if raw == "" {
		return info.Default, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || !info.InRange(v) {
		return 0, fmt.Errorf("%s must be a number between %g and %g", query, info.Min, info.Max)
	}
	return v, nil
}
