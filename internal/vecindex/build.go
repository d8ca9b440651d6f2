package vecindex

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/coder/hnsw"
	"github.com/google/renameio"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/vkadlec/species-curator/internal/vecmath"
)

// BuildItem is one image queued for indexing.
type BuildItem struct {
	Species   string
	Filename  string
	SizeBytes int64
	Embedding []float32
}

// Build writes a complete artifact set into dir: the HNSW graph, its
// JSON sidecar, both row tables and the per-species statistics. Every
// file is replaced atomically.
func Build(dir, model string, items []BuildItem) (IndexMetadata, error) {
	if len(items) == 0 {
		return IndexMetadata{}, errors.New("no embeddings to index")
	}
	dim := len(items[0].Embedding)
	for i := range items {
		if len(items[i].Embedding) != dim {
			return IndexMetadata{}, fmt.Errorf("embedding dimension mismatch for %s/%s: got %d, want %d",
				items[i].Species, items[i].Filename, len(items[i].Embedding), dim)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return IndexMetadata{}, fmt.Errorf("failed to create index directory: %w", err)
	}

	g := hnsw.NewGraph[int64]()
	g.M = maxNeighbors
	g.Ml = 1.0 / float64(maxNeighbors) // standard HNSW formula
	g.Distance = hnsw.CosineDistance

	rows := make([]Row, len(items))
	full := make([]FullRow, len(items))
	for i := range items {
		rows[i] = Row{
			Species:   items[i].Species,
			Filename:  items[i].Filename,
			SizeBytes: items[i].SizeBytes,
		}
		full[i] = FullRow{Row: rows[i], Embedding: items[i].Embedding}
		g.Add(hnsw.MakeNode(int64(i), items[i].Embedding))
	}

	indexPath := filepath.Join(dir, indexFile)
	if err := writeAtomic(indexPath, g.Export); err != nil {
		return IndexMetadata{}, fmt.Errorf("failed to write HNSW graph: %w", err)
	}

	meta := IndexMetadata{
		VectorCount: len(items),
		Dim:         dim,
		Model:       model,
		BuiltAt:     time.Now().UTC(),
		Version:     indexVersion,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return IndexMetadata{}, fmt.Errorf("failed to marshal index metadata: %w", err)
	}
	if err := renameio.WriteFile(indexPath+metaSuffix, metaJSON, 0o644); err != nil {
		return IndexMetadata{}, fmt.Errorf("failed to write index metadata: %w", err)
	}

	if err := writeAtomic(filepath.Join(dir, slimFile), func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(rows)
	}); err != nil {
		return IndexMetadata{}, fmt.Errorf("failed to write row table: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, fullFile), func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(full)
	}); err != nil {
		return IndexMetadata{}, fmt.Errorf("failed to write full row table: %w", err)
	}

	statsJSON, err := json.MarshalIndent(computeSpeciesStats(full), "", "  ")
	if err != nil {
		return IndexMetadata{}, fmt.Errorf("failed to marshal species stats: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, statsFile), statsJSON, 0o644); err != nil {
		return IndexMetadata{}, fmt.Errorf("failed to write species stats: %w", err)
	}

	return meta, nil
}

// writeAtomic streams body into a temp file and renames it over path.
func writeAtomic(path string, body func(io.Writer) error) error {
	t, err := renameio.TempFile("", path)
	if err != nil {
		return err
	}
	defer t.Cleanup()

	if err := body(t); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

// computeSpeciesStats derives the centroid geometry for every species
// in the table.
func computeSpeciesStats(full []FullRow) map[string]SpeciesStats {
	grouped := make(map[string][][]float32)
	for i := range full {
		grouped[full[i].Species] = append(grouped[full[i].Species], full[i].Embedding)
	}

	out := make(map[string]SpeciesStats, len(grouped))
	for species, embs := range grouped {
		centroid := vecmath.Centroid(embs)
		dists := make([]float64, len(embs))
		for i, emb := range embs {
			dists[i] = vecmath.CosineDistance(emb, centroid)
		}
		out[species] = SpeciesStats{
			Count:        len(embs),
			Centroid:     centroid,
			MeanDistance: stat.Mean(dists, nil),
			StdDistance:  stat.PopStdDev(dists, nil),
			MinDistance:  floats.Min(dists),
			MaxDistance:  floats.Max(dists),
		}
	}
	return out
}
