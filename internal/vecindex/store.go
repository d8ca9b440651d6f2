// Package vecindex stores precomputed image embeddings in an HNSW graph
// with sidecar row tables, so similarity queries can run without a live
// embedding service.
package vecindex

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/coder/hnsw"

	"github.com/vkadlec/species-curator/internal/unionfind"
	"github.com/vkadlec/species-curator/internal/vecmath"
)

// Index artifact layout inside the index directory. The graph file
// stores the vectors keyed by row position; the gob files carry the row
// tables those keys point into.
const (
	indexFile  = "embeddings.hnsw"
	metaSuffix = ".meta"
	slimFile   = "metadata.gob"
	fullFile   = "metadata_full.gob"
	statsFile  = "species_stats.json"

	// maxNeighbors (M) is the maximum number of neighbors per HNSW node.
	maxNeighbors = 16

	// indexVersion guards against loading artifacts written by an
	// incompatible builder.
	indexVersion = 1

	defaultNeighborCount = 10
)

var (
	// ErrMissingIndex is returned when the graph file or its JSON
	// sidecar does not exist in the index directory.
	ErrMissingIndex = errors.New("embedding index not found")

	// ErrMissingMetadata is returned when a row table is absent even
	// though the graph file exists.
	ErrMissingMetadata = errors.New("index metadata not found")

	// ErrNotIndexed is returned by Neighbors when the query image has
	// no vector in the index.
	ErrNotIndexed = errors.New("image not indexed")
)

// Row describes one indexed image. The row tables are position-aligned
// with the HNSW node keys: the vector stored under key i belongs to the
// i-th row.
type Row struct {
	Species   string `json:"species"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size"`
}

// FullRow extends Row with the raw embedding for services that need the
// vectors themselves (pairwise search, outlier scoring).
type FullRow struct {
	Row
	Embedding []float32
}

// IndexMetadata is the JSON sidecar written next to the graph file.
type IndexMetadata struct {
	VectorCount int       `json:"vector_count"`
	Dim         int       `json:"dim"`
	Model       string    `json:"model"`
	BuiltAt     time.Time `json:"built_at"`
	Version     int       `json:"version"`
}

// SpeciesStats holds the centroid geometry computed for one species at
// build time. The centroid is the L2-normalized mean of the raw
// embeddings and distances are cosine distances of each member to it.
type SpeciesStats struct {
	Count        int       `json:"count"`
	Centroid     []float32 `json:"centroid"`
	MeanDistance float64   `json:"mean_distance"`
	StdDistance  float64   `json:"std_distance"`
	MinDistance  float64   `json:"min_distance"`
	MaxDistance  float64   `json:"max_distance"`
}

// Neighbor is one nearest-neighbor hit for a query image.
type Neighbor struct {
	Row
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
}

// Store is a read-only view over the index artifacts. Every field is
// populated by Load and never mutated afterwards, so concurrent readers
// need no locking.
type Store struct {
	dir   string
	graph *hnsw.SavedGraph[int64]
	meta  IndexMetadata
	rows  []Row
	full  []FullRow
	stats map[string]SpeciesStats
}

// Load opens the index artifacts in dir. It fails with ErrMissingIndex
// or ErrMissingMetadata when files are absent. There is no partial
// recovery; a broken index has to be rebuilt with the index command.
func Load(dir string) (*Store, error) {
	indexPath := filepath.Join(dir, indexFile)
	metaPath := indexPath + metaSuffix
	for _, p := range []string{indexPath, metaPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingIndex, p)
		}
	}
	slimPath := filepath.Join(dir, slimFile)
	fullPath := filepath.Join(dir, fullFile)
	for _, p := range []string{slimPath, fullPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingMetadata, p)
		}
	}

	graph, err := hnsw.LoadSavedGraph[int64](indexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load HNSW graph: %w", err)
	}

	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read index metadata: %w", err)
	}
	var meta IndexMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse index metadata: %w", err)
	}
	if meta.Version != indexVersion {
		return nil, fmt.Errorf("unsupported index version %d, rebuild the index", meta.Version)
	}

	var rows []Row
	if err := decodeGob(slimPath, &rows); err != nil {
		return nil, err
	}
	var full []FullRow
	if err := decodeGob(fullPath, &full); err != nil {
		return nil, err
	}
	if len(full) != len(rows) {
		return nil, fmt.Errorf("row tables disagree: %d rows vs %d full rows", len(rows), len(full))
	}
	if meta.VectorCount != len(rows) {
		return nil, fmt.Errorf("index metadata reports %d vectors, row table has %d", meta.VectorCount, len(rows))
	}

	stats, err := loadStats(filepath.Join(dir, statsFile))
	if err != nil {
		return nil, err
	}

	return &Store{
		dir:   dir,
		graph: graph,
		meta:  meta,
		rows:  rows,
		full:  full,
		stats: stats,
	}, nil
}

// Metadata returns the build metadata of the loaded index.
func (s *Store) Metadata() IndexMetadata {
	return s.meta
}

// Count returns the number of indexed vectors.
func (s *Store) Count() int {
	return len(s.rows)
}

// Dir returns the directory the index was loaded from.
func (s *Store) Dir() string {
	return s.dir
}

// StatsAvailable reports whether the build wrote species statistics.
// Outlier scoring requires them; everything else works without.
func (s *Store) StatsAvailable() bool {
	return s.stats != nil
}

// Stats returns the build-time statistics for one species.
func (s *Store) Stats(species string) (SpeciesStats, bool) {
	st, ok := s.stats[species]
	return st, ok
}

// SpeciesCount returns how many vectors are indexed for species.
func (s *Store) SpeciesCount(species string) int {
	n := 0
	for i := range s.rows {
		if s.rows[i].Species == species {
			n++
		}
	}
	return n
}

// Species returns the distinct species present in the index, sorted.
func (s *Store) Species() []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for i := range s.rows {
		if !seen[s.rows[i].Species] {
			seen[s.rows[i].Species] = true
			out = append(out, s.rows[i].Species)
		}
	}
	sort.Strings(out)
	return out
}

// SpeciesEmbeddings returns the full rows for one species in index
// order.
func (s *Store) SpeciesEmbeddings(species string) []FullRow {
	var out []FullRow
	for i := range s.full {
		if s.full[i].Species == species {
			out = append(out, s.full[i])
		}
	}
	return out
}

// SearchSpecies groups the indexed images of one species by pairwise
// cosine similarity at or above threshold. Groups with a single member
// are dropped. Members are sorted by size descending then filename,
// groups by member count descending then first filename.
func (s *Store) SearchSpecies(species string, threshold float64) [][]Row {
	var subset []int
	for i := range s.full {
		if s.full[i].Species == species {
			subset = append(subset, i)
		}
	}
	if len(subset) < 2 {
		return nil
	}

	normed := make([][]float32, len(subset))
	for i, pos := range subset {
		normed[i] = vecmath.Normalize(s.full[pos].Embedding)
	}

	uf := unionfind.New(len(subset))
	for i := 0; i < len(subset); i++ {
		for j := i + 1; j < len(subset); j++ {
			if vecmath.Dot(normed[i], normed[j]) >= threshold {
				uf.Union(i, j)
			}
		}
	}

	groups := make([][]Row, 0)
	for _, members := range uf.GroupsWithMultiple() {
		rows := make([]Row, len(members))
		for k, m := range members {
			rows[k] = s.full[subset[m]].Row
		}
		sortRows(rows)
		groups = append(groups, rows)
	}
	sort.SliceStable(groups, func(a, b int) bool {
		if len(groups[a]) != len(groups[b]) {
			return len(groups[a]) > len(groups[b])
		}
		return groups[a][0].Filename < groups[b][0].Filename
	})
	return groups
}

// Neighbors returns the k nearest indexed images to one query image,
// across all species. The query image itself is excluded.
func (s *Store) Neighbors(species, filename string, k int) ([]Neighbor, error) {
	pos := -1
	for i := range s.full {
		if s.full[i].Species == species && s.full[i].Filename == filename {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotIndexed, species, filename)
	}
	if k <= 0 {
		k = defaultNeighborCount
	}

	query := s.full[pos].Embedding
	// Fetch one extra candidate since the query image matches itself.
	candidates := s.graph.Search(query, k+1)

	out := make([]Neighbor, 0, k)
	for _, n := range candidates {
		if n.Key == int64(pos) {
			continue
		}
		if n.Key < 0 || int(n.Key) >= len(s.rows) {
			continue
		}
		dist := vecmath.CosineDistance(query, n.Value)
		out = append(out, Neighbor{
			Row:        s.rows[n.Key],
			Distance:   dist,
			Similarity: 1 - dist,
		})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].SizeBytes != rows[j].SizeBytes {
			return rows[i].SizeBytes > rows[j].SizeBytes
		}
		return rows[i].Filename < rows[j].Filename
	})
}

func decodeGob(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// loadStats reads the species statistics sidecar. The file is optional;
// without it outlier scoring reports itself unavailable.
func loadStats(path string) (map[string]SpeciesStats, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read species stats: %w", err)
	}
	var stats map[string]SpeciesStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, fmt.Errorf("failed to parse species stats: %w", err)
	}
	return stats, nil
}
