package detect

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vkadlec/species-curator/internal/embedding"
	"github.com/vkadlec/species-curator/internal/library"
	"github.com/vkadlec/species-curator/internal/unionfind"
	"github.com/vkadlec/species-curator/internal/vecindex"
	"github.com/vkadlec/species-curator/internal/vecmath"
)

const msgNotEnoughForSimilarity = "Not enough images for similarity detection"

// SimilarityService groups visually similar images by embedding cosine
// similarity. A loaded vector index answers queries from precomputed
// vectors; without one, embeddings are fetched from the provider on
// demand and cached.
type SimilarityService struct {
	source   *library.Source
	cache    *Cache
	provider embedding.Provider
	store    *vecindex.Store
	workers  int
}

// NewSimilarityService wires a similarity service. store may be nil
// when no index has been built; provider may be nil when no embedding
// endpoint is configured.
func NewSimilarityService(source *library.Source, cache *Cache, provider embedding.Provider, store *vecindex.Store, workers int) *SimilarityService {
	if workers < 1 {
		workers = 1
	}
	return &SimilarityService{
		source:   source,
		cache:    cache,
		provider: provider,
		store:    store,
		workers:  workers,
	}
}

// FindSimilar scans one species for similar image groups at the given
// cosine similarity threshold.
func (s *SimilarityService) FindSimilar(ctx context.Context, species string, threshold float64) (SimilarityResult, error) {
	result := SimilarityResult{
		Species:       species,
		SimilarGroups: []SimilarGroup{},
		Threshold:     threshold,
	}
	if s.provider != nil {
		result.Model = s.provider.Model()
	}

	records, err := s.source.ListImages(species)
	if err != nil {
		return result, err
	}
	result.TotalImages = len(records)
	if len(records) < 2 {
		result.Message = msgNotEnoughForSimilarity
		return result, nil
	}

	if s.store != nil && s.store.SpeciesCount(species) >= 2 {
		return s.findIndexed(species, threshold, result), nil
	}
	return s.findOnDemand(ctx, species, records, threshold, result)
}

// findIndexed answers from the precomputed vector index.
func (s *SimilarityService) findIndexed(species string, threshold float64, result SimilarityResult) SimilarityResult {
	result.FromIndex = true
	result.Model = s.store.Metadata().Model
	result.ProcessedImages = s.store.SpeciesCount(species)

	for i, members := range s.store.SearchSpecies(species, threshold) {
		sg := SimilarGroup{GroupID: i + 1, Count: len(members)}
		for _, row := range members {
			sg.Images = append(sg.Images, ImageInfo{
				Filename: row.Filename,
				Path:     imageAPIPath(species, row.Filename),
				Size:     row.SizeBytes,
			})
		}
		result.SimilarGroups = append(result.SimilarGroups, sg)
		result.TotalInGroups += sg.Count
	}
	return result
}

// findOnDemand embeds every image through the provider and clusters by
// pairwise cosine similarity on the raw vectors.
func (s *SimilarityService) findOnDemand(ctx context.Context, species string, records []library.ImageRecord, threshold float64, result SimilarityResult) (SimilarityResult, error) {
	if s.provider == nil {
		result.Message = "similarity unavailable: no embedding provider configured"
		return result, nil
	}

	var failures []ScanFailure
	embeds, err := s.cache.GetOrComputeEmbeddings(ctx, species, s.provider.Model(), func() (map[string][]float32, error) {
		m, f, err := s.computeEmbeddings(ctx, species, records)
		failures = f
		return m, err
	})
	if err != nil {
		return result, err
	}
	result.ProcessedImages = len(embeds)
	result.Failures = failures

	var withVec []library.ImageRecord
	for _, rec := range records {
		if len(embeds[rec.Path]) > 0 {
			withVec = append(withVec, rec)
		}
	}
	if len(withVec) < 2 {
		return result, nil
	}

	uf := unionfind.New(len(withVec))
	for i := 0; i < len(withVec); i++ {
		for j := i + 1; j < len(withVec); j++ {
			if vecmath.CosineSimilarity(embeds[withVec[i].Path], embeds[withVec[j].Path]) >= threshold {
				uf.Union(i, j)
			}
		}
	}

	for _, members := range uf.GroupsWithMultiple() {
		group := make([]library.ImageRecord, len(members))
		for k, m := range members {
			group[k] = withVec[m]
		}
		sortBySizeThenName(group)

		sg := SimilarGroup{GroupID: len(result.SimilarGroups) + 1, Count: len(group)}
		for _, rec := range group {
			sg.Images = append(sg.Images, ImageInfo{
				Filename: rec.Filename,
				Path:     imageAPIPath(species, rec.Filename),
				Size:     rec.SizeBytes,
			})
		}
		result.SimilarGroups = append(result.SimilarGroups, sg)
		result.TotalInGroups += sg.Count
	}
	return result, nil
}

// computeEmbeddings fetches one vector per image on a bounded worker
// pool. Per-image failures are recorded, not returned; cancellation
// aborts the whole scan instead of being recorded per image.
func (s *SimilarityService) computeEmbeddings(ctx context.Context, species string, records []library.ImageRecord) (map[string][]float32, []ScanFailure, error) {
	var (
		mu       sync.Mutex
		embeds   = make(map[string][]float32, len(records))
		failures []ScanFailure
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			data, err := s.source.ReadBytes(species, rec.Filename)
			if err != nil {
				recordFailure(&mu, &failures, rec.Filename, err)
				return nil
			}

			vec, err := s.provider.Embed(ctx, data)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				recordFailure(&mu, &failures, rec.Filename, err)
				return nil
			}

			mu.Lock()
			embeds[rec.Path] = vec
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	sort.Slice(failures, func(i, j int) bool { return failures[i].File < failures[j].File })
	return embeds, failures, nil
}
