package detect

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vkadlec/species-curator/internal/library"
	"github.com/vkadlec/species-curator/internal/phash"
	"github.com/vkadlec/species-curator/internal/unionfind"
)

const msgNotEnoughForDuplicates = "Not enough images for duplicate detection"

// DuplicateOptions control one duplicate scan.
type DuplicateOptions struct {
	HashSize         int
	HammingThreshold int
	Exact            bool
}

// DuplicateService groups near-identical images of a species using
// perceptual hashes, or exact content digests in exact mode. Hash maps
// are cached per species and parameter signature.
type DuplicateService struct {
	source  *library.Source
	cache   *Cache
	workers int
}

// NewDuplicateService wires a duplicate service to an image source and
// a shared result cache. Hashing runs on at most workers goroutines.
func NewDuplicateService(source *library.Source, cache *Cache, workers int) *DuplicateService {
	if workers < 1 {
		workers = 1
	}
	return &DuplicateService{source: source, cache: cache, workers: workers}
}

// FindDuplicates scans one species for duplicate images. Per-image
// hash failures are recorded on the result and do not abort the scan;
// fewer than two images yields an empty result with a message.
func (s *DuplicateService) FindDuplicates(ctx context.Context, species string, opts DuplicateOptions) (DuplicateResult, error) {
	result := DuplicateResult{
		Species:          species,
		DuplicateGroups:  []DuplicateGroup{},
		HashSize:         opts.HashSize,
		HammingThreshold: opts.HammingThreshold,
		Exact:            opts.Exact,
	}

	records, err := s.source.ListImages(species)
	if err != nil {
		return result, err
	}
	result.TotalImages = len(records)
	if len(records) < 2 {
		result.Message = msgNotEnoughForDuplicates
		return result, nil
	}

	var failures []ScanFailure
	hashes, err := s.cache.GetOrComputeHashes(ctx, species, hashSignature(opts.HashSize, opts.Exact), func() (map[string]string, error) {
		m, f, err := s.computeHashes(ctx, records, opts)
		failures = f
		return m, err
	})
	if err != nil {
		return result, err
	}
	result.HashedImages = len(hashes)
	result.Failures = failures

	var groups [][]library.ImageRecord
	if opts.Exact {
		groups = groupByDigest(records, hashes)
	} else {
		groups = groupByHamming(records, hashes, opts.HammingThreshold)
	}

	for i, group := range groups {
		keep, rest := SelectKeep(group)
		dg := DuplicateGroup{
			GroupID:      i + 1,
			Keep:         imageInfoWithHash(species, keep, hashes),
			Duplicates:   make([]ImageInfo, 0, len(rest)),
			TotalInGroup: len(group),
		}
		for _, rec := range rest {
			dg.Duplicates = append(dg.Duplicates, imageInfoWithHash(species, rec, hashes))
		}
		result.DuplicateGroups = append(result.DuplicateGroups, dg)
		result.TotalDuplicates += len(rest)
	}
	return result, nil
}

// FindAllDuplicates scans every species and aggregates the totals.
// Species results are included only when duplicates were found. The
// progress callback, when set, runs after each species.
func (s *DuplicateService) FindAllDuplicates(ctx context.Context, opts DuplicateOptions, progress func(species string, result DuplicateResult)) (AllSpeciesResult, error) {
	summary := AllSpeciesResult{
		Mode:             "all_species",
		HashSize:         opts.HashSize,
		HammingThreshold: opts.HammingThreshold,
		SpeciesResults:   []DuplicateResult{},
	}

	speciesList, err := s.source.SpeciesList()
	if err != nil {
		return summary, err
	}
	summary.TotalSpeciesScanned = len(speciesList)

	for _, species := range speciesList {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		result, err := s.FindDuplicates(ctx, species, opts)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			continue
		}

		summary.TotalImages += result.TotalImages
		summary.TotalDuplicates += result.TotalDuplicates
		summary.TotalGroups += len(result.DuplicateGroups)
		if result.TotalDuplicates > 0 {
			summary.SpeciesWithDuplicates++
			summary.SpeciesResults = append(summary.SpeciesResults, result)
		}

		if progress != nil {
			progress(species, result)
		}
	}
	return summary, nil
}

// SpeciesHashes returns the per-image perceptual hashes for one species
// without any grouping.
func (s *DuplicateService) SpeciesHashes(ctx context.Context, species string, hashSize int) (HashReport, error) {
	report := HashReport{
		Species:  species,
		HashSize: hashSize,
		Images:   []ImageInfo{},
	}

	records, err := s.source.ListImages(species)
	if err != nil {
		return report, err
	}
	report.TotalImages = len(records)
	if len(records) == 0 {
		return report, nil
	}

	var failures []ScanFailure
	hashes, err := s.cache.GetOrComputeHashes(ctx, species, hashSignature(hashSize, false), func() (map[string]string, error) {
		m, f, err := s.computeHashes(ctx, records, DuplicateOptions{HashSize: hashSize})
		failures = f
		return m, err
	})
	if err != nil {
		return report, err
	}
	report.HashedImages = len(hashes)
	report.Failures = failures

	for _, rec := range records {
		report.Images = append(report.Images, imageInfoWithHash(species, rec, hashes))
	}
	return report, nil
}

// SelectKeep picks the survivor of a duplicate group: largest file
// first, ties broken by filename. The rest are deletion candidates.
func SelectKeep(group []library.ImageRecord) (library.ImageRecord, []library.ImageRecord) {
	sorted := make([]library.ImageRecord, len(group))
	copy(sorted, group)
	sortBySizeThenName(sorted)
	return sorted[0], sorted[1:]
}

// computeHashes hashes the records on a bounded worker pool. Per-image
// failures are recorded, not returned; only cancellation aborts.
func (s *DuplicateService) computeHashes(ctx context.Context, records []library.ImageRecord, opts DuplicateOptions) (map[string]string, []ScanFailure, error) {
	var (
		mu       sync.Mutex
		hashes   = make(map[string]string, len(records))
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

			var (
				hash string
				err  error
			)
			if opts.Exact {
				hash, err = phash.ContentHash(rec.Path)
			} else {
				hash, err = phash.HashImage(rec.Path, opts.HashSize, phash.Perceptual)
			}
			if err != nil {
				recordFailure(&mu, &failures, rec.Filename, err)
				return nil
			}

			mu.Lock()
			hashes[rec.Path] = hash
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	// Worker scheduling is nondeterministic; keep failure order stable.
	sort.Slice(failures, func(i, j int) bool { return failures[i].File < failures[j].File })
	return hashes, failures, nil
}

// groupByDigest partitions records by exact digest, preserving listing
// order for group discovery and membership.
func groupByDigest(records []library.ImageRecord, hashes map[string]string) [][]library.ImageRecord {
	byDigest := make(map[string][]library.ImageRecord)
	var order []string
	for _, rec := range records {
		digest, ok := hashes[rec.Path]
		if !ok {
			continue
		}
		if _, seen := byDigest[digest]; !seen {
			order = append(order, digest)
		}
		byDigest[digest] = append(byDigest[digest], rec)
	}

	var groups [][]library.ImageRecord
	for _, digest := range order {
		if len(byDigest[digest]) > 1 {
			groups = append(groups, byDigest[digest])
		}
	}
	return groups
}

// groupByHamming clusters records whose perceptual hashes are within
// threshold bits of each other.
func groupByHamming(records []library.ImageRecord, hashes map[string]string, threshold int) [][]library.ImageRecord {
	var withHash []library.ImageRecord
	for _, rec := range records {
		if hashes[rec.Path] != "" {
			withHash = append(withHash, rec)
		}
	}
	if len(withHash) < 2 {
		return nil
	}

	uf := unionfind.New(len(withHash))
	for i := 0; i < len(withHash); i++ {
		for j := i + 1; j < len(withHash); j++ {
			if phash.HammingDistance(hashes[withHash[i].Path], hashes[withHash[j].Path]) <= threshold {
				uf.Union(i, j)
			}
		}
	}

	var groups [][]library.ImageRecord
	for _, members := range uf.GroupsWithMultiple() {
		group := make([]library.ImageRecord, len(members))
		for k, m := range members {
			group[k] = withHash[m]
		}
		groups = append(groups, group)
	}
	return groups
}

func imageInfoWithHash(species string, rec library.ImageRecord, hashes map[string]string) ImageInfo {
	return ImageInfo{
		Filename: rec.Filename,
		Path:     imageAPIPath(species, rec.Filename),
		Size:     rec.SizeBytes,
		Hash:     hashes[rec.Path],
	}
}
