package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vkadlec/species-curator/internal/config"
	"github.com/vkadlec/species-curator/internal/embedding"
	"github.com/vkadlec/species-curator/internal/library"
	"github.com/vkadlec/species-curator/internal/vecindex"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the embedding index for the whole collection",
	Long: `Compute an embedding for every image in the collection and write the
index artifacts (HNSW graph, row tables, per-species statistics) into
CURATOR_INDEX_DIR. The serve, similar and outliers commands answer from
these artifacts without touching the embedding service.

Requires a running embedding service at CURATOR_EMBEDDING_URL.

Examples:
  # Index everything with 8 parallel embedding requests
  species-curator index --workers 8

  # Smoke test on a subset
  species-curator index --limit 100`,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)

	indexCmd.Flags().Int("workers", 0, "Parallel embedding requests (0 = use CURATOR_WORKERS)")
	indexCmd.Flags().Int("limit", 0, "Limit number of images to index (0 = no limit)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Index.Dir == "" {
		return errors.New("CURATOR_INDEX_DIR environment variable is required")
	}
	source, err := newSource(cfg)
	if err != nil {
		return err
	}

	workers := mustGetInt(cmd, "workers")
	if workers == 0 {
		workers = cfg.Detection.Workers
	}
	limit := mustGetInt(cmd, "limit")

	fmt.Println("Listing collection...")
	records, err := collectRecords(source, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return errors.New("no images found in the collection")
	}
	fmt.Printf("Images to embed: %d\n\n", len(records))

	client := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.Model)

	bar := progressbar.NewOptions(len(records),
		progressbar.OptionSetDescription("Computing embeddings"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	// Position-aligned results so the artifact order matches the sorted
	// listing regardless of worker scheduling.
	vectors := make([][]float32, len(records))
	var (
		mu         sync.Mutex
		errorCount int
	)

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(workers)

	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			defer func() { _ = bar.Add(1) }()
			if err := ctx.Err(); err != nil {
				return err
			}

			data, err := source.ReadBytes(rec.Species, rec.Filename)
			if err != nil {
				mu.Lock()
				errorCount++
				mu.Unlock()
				return nil
			}

			vec, err := client.Embed(ctx, data)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				mu.Lock()
				errorCount++
				mu.Unlock()
				return nil
			}

			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("embedding pass failed: %w", err)
	}
	fmt.Println()

	items := make([]vecindex.BuildItem, 0, len(records))
	for i, rec := range records {
		if vectors[i] == nil {
			continue
		}
		items = append(items, vecindex.BuildItem{
			Species:   rec.Species,
			Filename:  rec.Filename,
			SizeBytes: rec.SizeBytes,
			Embedding: vectors[i],
		})
	}
	if len(items) == 0 {
		return errors.New("no images could be embedded")
	}

	fmt.Printf("\nWriting index artifacts to %s...\n", cfg.Index.Dir)
	meta, err := vecindex.Build(cfg.Index.Dir, client.Model(), items)
	if err != nil {
		return fmt.Errorf("failed to build index: %w", err)
	}

	fmt.Printf("Done: %d vectors (dim %d), %d image(s) failed\n", meta.VectorCount, meta.Dim, errorCount)
	return nil
}

// collectRecords flattens the collection into one sorted listing,
// species by species.
func collectRecords(source *library.Source, limit int) ([]library.ImageRecord, error) {
	names, err := source.SpeciesList()
	if err != nil {
		return nil, fmt.Errorf("failed to list species: %w", err)
	}

	var records []library.ImageRecord
	for _, species := range names {
		list, err := source.ListImages(species)
		if err != nil {
			fmt.Printf("Warning: skipping %s: %v\n", species, err)
			continue
		}
		records = append(records, list...)
		if limit > 0 && len(records) >= limit {
			return records[:limit], nil
		}
	}
	return records, nil
}
