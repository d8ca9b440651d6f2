package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vkadlec/species-curator/internal/config"
	"github.com/vkadlec/species-curator/internal/detect"
	"github.com/vkadlec/species-curator/internal/embedding"
)

var similarCmd = &cobra.Command{
	Use:   "similar <species>",
	Short: "Find visually similar images within a species",
	Long: `Group images of one species by embedding cosine similarity.

With a precomputed index (see the index command) results come straight
from disk; otherwise every image is sent to the embedding service,
which requires CURATOR_EMBEDDING_URL to point at a running instance.`,
	Args: cobra.ExactArgs(1),
	RunE: runSimilar,
}

func init() {
	rootCmd.AddCommand(similarCmd)

	similarCmd.Flags().Float64("threshold", 0.85, "Minimum cosine similarity to group images (0.5-1.0)")
}

func runSimilar(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	source, err := newSource(cfg)
	if err != nil {
		return err
	}

	species, err := source.Resolve(args[0])
	if err != nil {
		return fmt.Errorf("unknown species %q: %w", args[0], err)
	}

	store := loadStore(cfg)
	provider := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.Model)
	service := detect.NewSimilarityService(source, detect.NewCache(), provider, store, cfg.Detection.Workers)

	result, err := service.FindSimilar(context.Background(), species, mustGetFloat64(cmd, "threshold"))
	if err != nil {
		return fmt.Errorf("similarity scan failed: %w", err)
	}

	fmt.Printf("Species: %s\n", result.Species)
	fmt.Printf("Images: %d total, %d with embeddings", result.TotalImages, result.ProcessedImages)
	if result.FromIndex {
		fmt.Printf(" (from index)")
	}
	fmt.Println()
	if result.Message != "" {
		fmt.Println(result.Message)
		return nil
	}

	if len(result.SimilarGroups) == 0 {
		fmt.Println("No similar groups found.")
	}
	for _, group := range result.SimilarGroups {
		fmt.Printf("\nGroup %d (%d images):\n", group.GroupID, group.Count)
		for _, img := range group.Images {
			fmt.Printf("  %s (%d bytes)\n", img.Filename, img.Size)
		}
	}

	for _, failure := range result.Failures {
		fmt.Printf("Warning: %s: %s\n", failure.File, failure.Error)
	}
	return nil
}
