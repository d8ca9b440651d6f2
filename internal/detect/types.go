// Package detect implements duplicate, similarity and outlier detection
// over a species-labeled image library, with cached intermediate
// results.
package detect

import (
	"sort"
	"sync"

	"github.com/vkadlec/species-curator/internal/library"
)

// Detection type tags used in combined results.
const (
	TypeDuplicate = "duplicate"
	TypeSimilar   = "similar"
	TypeOutlier   = "outlier"
)

// ImageInfo describes one image inside a detection result.
type ImageInfo struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Hash     string `json:"hash,omitempty"`
}

// ScanFailure records a single image that could not be processed. Scans
// continue past failures.
type ScanFailure struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// DuplicateGroup is one cluster of near-identical images with a
// designated survivor.
type DuplicateGroup struct {
	GroupID      int         `json:"group_id"`
	Keep         ImageInfo   `json:"keep"`
	Duplicates   []ImageInfo `json:"duplicates"`
	TotalInGroup int         `json:"total_in_group"`
}

// DuplicateResult is the outcome of one duplicate scan.
type DuplicateResult struct {
	Species          string           `json:"species_name"`
	TotalImages      int              `json:"total_images"`
	HashedImages     int              `json:"hashed_images"`
	DuplicateGroups  []DuplicateGroup `json:"duplicate_groups"`
	TotalDuplicates  int              `json:"total_duplicates"`
	HashSize         int              `json:"hash_size"`
	HammingThreshold int              `json:"hamming_threshold"`
	Exact            bool             `json:"exact,omitempty"`
	Failures         []ScanFailure    `json:"errors,omitempty"`
	Message          string           `json:"message,omitempty"`
}

// AllSpeciesResult aggregates duplicate scans across the whole library.
// Species without findings contribute to the totals but not to
// SpeciesResults.
type AllSpeciesResult struct {
	Mode                  string            `json:"mode"`
	TotalSpeciesScanned   int               `json:"total_species_scanned"`
	SpeciesWithDuplicates int               `json:"species_with_duplicates"`
	TotalImages           int               `json:"total_images"`
	TotalDuplicates       int               `json:"total_duplicates"`
	TotalGroups           int               `json:"total_groups"`
	HashSize              int               `json:"hash_size"`
	HammingThreshold      int               `json:"hamming_threshold"`
	SpeciesResults        []DuplicateResult `json:"species_results"`
}

// HashReport lists per-image hashes without any grouping.
type HashReport struct {
	Species      string        `json:"species_name"`
	HashSize     int           `json:"hash_size"`
	TotalImages  int           `json:"total_images"`
	HashedImages int           `json:"hashed_images"`
	Images       []ImageInfo   `json:"images"`
	Failures     []ScanFailure `json:"errors,omitempty"`
}

// SimilarGroup is one cluster of visually similar images. Unlike
// duplicate groups there is no keep/delete split.
type SimilarGroup struct {
	GroupID int         `json:"group_id"`
	Images  []ImageInfo `json:"images"`
	Count   int         `json:"count"`
}

// SimilarityResult is the outcome of one similarity scan.
type SimilarityResult struct {
	Species         string         `json:"species_name"`
	TotalImages     int            `json:"total_images"`
	ProcessedImages int            `json:"processed_images"`
	SimilarGroups   []SimilarGroup `json:"similar_groups"`
	TotalInGroups   int            `json:"total_in_groups"`
	Threshold       float64        `json:"similarity_threshold"`
	Model           string         `json:"model_name"`
	FromIndex       bool           `json:"from_index"`
	Failures        []ScanFailure  `json:"errors,omitempty"`
	Message         string         `json:"message,omitempty"`
}

// OutlierInfo describes one image flagged as unusually far from its
// species centroid.
type OutlierInfo struct {
	Filename           string  `json:"filename"`
	Path               string  `json:"path"`
	Size               int64   `json:"size"`
	DistanceToCentroid float64 `json:"distance_to_centroid"`
	ZScore             float64 `json:"z_score"`
}

// OutlierResult is the outcome of one outlier scan.
type OutlierResult struct {
	Species             string        `json:"species_name"`
	TotalImages         int           `json:"total_images"`
	Outliers            []OutlierInfo `json:"outliers"`
	OutlierCount        int           `json:"outlier_count"`
	ThresholdPercentile float64       `json:"threshold_percentile"`
	ComputedThreshold   float64       `json:"computed_threshold"`
	MeanDistance        float64       `json:"mean_distance"`
	StdDistance         float64       `json:"std_distance"`
	Message             string        `json:"message,omitempty"`
}

// CombinedItem is one tagged entry in a merged analysis view. Keep is
// set for duplicate items, the distance fields for outlier items.
type CombinedItem struct {
	Type               string      `json:"type"`
	GroupID            int         `json:"group_id"`
	Images             []ImageInfo `json:"images"`
	Count              int         `json:"count"`
	Keep               string      `json:"keep,omitempty"`
	DistanceToCentroid float64     `json:"distance_to_centroid,omitempty"`
	ZScore             float64     `json:"z_score,omitempty"`
}

// CombinedResult merges all three detection types for one species.
type CombinedResult struct {
	Species             string         `json:"species_name"`
	SimilarityThreshold float64        `json:"similarity_threshold"`
	HashSize            int            `json:"hash_size"`
	HammingThreshold    int            `json:"hamming_threshold"`
	ThresholdPercentile float64        `json:"threshold_percentile"`
	Items               []CombinedItem `json:"items"`
	TotalItems          int            `json:"total_items"`
	Messages            []string       `json:"messages,omitempty"`
}

// imageAPIPath is where the web layer serves image bytes from.
func imageAPIPath(species, filename string) string {
	return "/api/v1/images/" + species + "/" + filename
}

// sortBySizeThenName orders records largest file first, ties broken by
// filename. This is the display order of group members and the basis of
// keep selection.
func sortBySizeThenName(records []library.ImageRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].SizeBytes != records[j].SizeBytes {
			return records[i].SizeBytes > records[j].SizeBytes
		}
		return records[i].Filename < records[j].Filename
	})
}

func recordFailure(mu *sync.Mutex, failures *[]ScanFailure, file string, err error) {
	mu.Lock()
	*failures = append(*failures, ScanFailure{File: file, Error: err.Error()})
	mu.Unlock()
}
