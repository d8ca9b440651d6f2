package detect

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/vkadlec/species-curator/internal/vecindex"
	"github.com/vkadlec/species-curator/internal/vecmath"
)

const (
	msgNotEnoughForOutliers = "Not enough images for outlier detection (need at least 3)"
	msgNoSpeciesStats       = "No embedding statistics for this species"

	// minOutlierPopulation is the smallest species for which percentile
	// thresholding is meaningful.
	minOutlierPopulation = 3
)

// ErrOutliersUnavailable is returned when the vector index or its
// species statistics have not been built.
var ErrOutliersUnavailable = errors.New("outlier detection unavailable: species statistics not built")

// OutlierService flags images unusually far from their species
// centroid. It runs entirely on the vector index and its build-time
// statistics; no embedding provider is involved.
type OutlierService struct {
	store *vecindex.Store
}

// NewOutlierService wires an outlier service to a vector index store.
// store may be nil when no index has been built.
func NewOutlierService(store *vecindex.Store) *OutlierService {
	return &OutlierService{store: store}
}

// Available reports whether outlier detection can run at all.
func (s *OutlierService) Available() bool {
	return s.store != nil && s.store.StatsAvailable()
}

// DetectOutliers flags every image of the species whose cosine distance
// to the precomputed centroid exceeds the given percentile of the
// species' distance distribution. Fewer than three images yields an
// empty result with a message.
func (s *OutlierService) DetectOutliers(species string, percentile float64) (OutlierResult, error) {
	result := OutlierResult{
		Species:             species,
		Outliers:            []OutlierInfo{},
		ThresholdPercentile: percentile,
	}
	if !s.Available() {
		return result, ErrOutliersUnavailable
	}
	if percentile < 0 || percentile > 100 {
		return result, fmt.Errorf("percentile %v out of range [0, 100]", percentile)
	}

	stats, ok := s.store.Stats(species)
	if !ok {
		result.Message = msgNoSpeciesStats
		return result, nil
	}
	result.MeanDistance = stats.MeanDistance
	result.StdDistance = stats.StdDistance

	rows := s.store.SpeciesEmbeddings(species)
	result.TotalImages = len(rows)
	if len(rows) < minOutlierPopulation {
		result.Message = msgNotEnoughForOutliers
		return result, nil
	}

	distances := make([]float64, len(rows))
	for i, row := range rows {
		distances[i] = vecmath.CosineDistance(row.Embedding, stats.Centroid)
	}

	sorted := make([]float64, len(distances))
	copy(sorted, distances)
	sort.Float64s(sorted)
	cutoff := stat.Quantile(percentile/100, stat.LinInterp, sorted, nil)
	result.ComputedThreshold = cutoff

	mean := stat.Mean(distances, nil)
	std := stat.PopStdDev(distances, nil)

	for i, row := range rows {
		if distances[i] <= cutoff {
			continue
		}
		z := 0.0
		if std > 0 {
			z = (distances[i] - mean) / std
		}
		result.Outliers = append(result.Outliers, OutlierInfo{
			Filename:           row.Filename,
			Path:               imageAPIPath(species, row.Filename),
			Size:               row.SizeBytes,
			DistanceToCentroid: distances[i],
			ZScore:             z,
		})
	}

	sort.Slice(result.Outliers, func(i, j int) bool {
		return result.Outliers[i].DistanceToCentroid > result.Outliers[j].DistanceToCentroid
	})
	result.OutlierCount = len(result.Outliers)
	return result, nil
}
