package detect

import "context"

// CombinedOptions carries the per-detector parameters for a combined
// analysis pass.
type CombinedOptions struct {
	HashSize            int
	HammingThreshold    int
	Exact               bool
	SimilarityThreshold float64
	ThresholdPercentile float64
}

// CombinedService merges all three detection types into one flat view
// with every item tagged by its origin.
type CombinedService struct {
	duplicates *DuplicateService
	similarity *SimilarityService
	outliers   *OutlierService
}

// NewCombinedService wires the combined view over the three detectors.
func NewCombinedService(duplicates *DuplicateService, similarity *SimilarityService, outliers *OutlierService) *CombinedService {
	return &CombinedService{
		duplicates: duplicates,
		similarity: similarity,
		outliers:   outliers,
	}
}

// Analyze runs similarity, duplicate and outlier detection for one
// species and merges the findings. Sub-results that cannot run (too few
// images, missing statistics) contribute a message instead of failing
// the whole pass.
func (s *CombinedService) Analyze(ctx context.Context, species string, opts CombinedOptions) (CombinedResult, error) {
	result := CombinedResult{
		Species:             species,
		SimilarityThreshold: opts.SimilarityThreshold,
		HashSize:            opts.HashSize,
		HammingThreshold:    opts.HammingThreshold,
		ThresholdPercentile: opts.ThresholdPercentile,
		Items:               []CombinedItem{},
	}

	similar, err := s.similarity.FindSimilar(ctx, species, opts.SimilarityThreshold)
	if err != nil {
		return result, err
	}
	for _, g := range similar.SimilarGroups {
		result.Items = append(result.Items, CombinedItem{
			Type:    TypeSimilar,
			GroupID: g.GroupID,
			Images:  g.Images,
			Count:   g.Count,
		})
	}
	if similar.Message != "" {
		result.Messages = append(result.Messages, similar.Message)
	}

	duplicates, err := s.duplicates.FindDuplicates(ctx, species, DuplicateOptions{
		HashSize:         opts.HashSize,
		HammingThreshold: opts.HammingThreshold,
		Exact:            opts.Exact,
	})
	if err != nil {
		return result, err
	}
	for _, g := range duplicates.DuplicateGroups {
		images := make([]ImageInfo, 0, g.TotalInGroup)
		images = append(images, g.Keep)
		images = append(images, g.Duplicates...)
		result.Items = append(result.Items, CombinedItem{
			Type:    TypeDuplicate,
			GroupID: g.GroupID,
			Images:  images,
			Count:   len(images),
			Keep:    g.Keep.Filename,
		})
	}
	if duplicates.Message != "" {
		result.Messages = append(result.Messages, duplicates.Message)
	}

	if s.outliers.Available() {
		outliers, err := s.outliers.DetectOutliers(species, opts.ThresholdPercentile)
		if err != nil {
			return result, err
		}
		for i, o := range outliers.Outliers {
			result.Items = append(result.Items, CombinedItem{
				Type:               TypeOutlier,
				GroupID:            i + 1,
				Images:             []ImageInfo{{Filename: o.Filename, Path: o.Path, Size: o.Size}},
				Count:              1,
				DistanceToCentroid: o.DistanceToCentroid,
				ZScore:             o.ZScore,
			})
		}
		if outliers.Message != "" {
			result.Messages = append(result.Messages, outliers.Message)
		}
	} else {
		result.Messages = append(result.Messages, ErrOutliersUnavailable.Error())
	}

	result.TotalItems = len(result.Items)
	return result, nil
}
