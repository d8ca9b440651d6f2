package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/vkadlec/species-curator/internal/config"
	"github.com/vkadlec/species-curator/internal/detect"
	"github.com/vkadlec/species-curator/internal/library"
)

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates [species]",
	Short: "Find duplicate images within a species",
	Long: `Find near-duplicate images within one species, or across the whole
collection with --all. Images are compared by perceptual hash; use
--exact to compare by content digest instead.

Examples:
  # Scan one species with the default settings
  species-curator duplicates Acacia_dealbata

  # Stricter matching: only byte-identical files group together
  species-curator duplicates Acacia_dealbata --exact

  # Scan the entire collection
  species-curator duplicates --all`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDuplicates,
}

func init() {
	rootCmd.AddCommand(duplicatesCmd)

	duplicatesCmd.Flags().Int("hash-size", 16, "Perceptual hash size (8-32)")
	duplicatesCmd.Flags().Int("threshold", 5, "Maximum Hamming distance between duplicates")
	duplicatesCmd.Flags().Bool("exact", false, "Group by exact content digest instead of perceptual hash")
	duplicatesCmd.Flags().Bool("all", false, "Scan every species in the collection")
	duplicatesCmd.Flags().Int("workers", 0, "Hashing worker count (0 = use CURATOR_WORKERS)")
}

func runDuplicates(cmd *cobra.Command, args []string) error {
	all := mustGetBool(cmd, "all")
	if !all && len(args) == 0 {
		return errors.New("provide a species name or use --all")
	}

	cfg := config.Load()
	source, err := newSource(cfg)
	if err != nil {
		return err
	}

	workers := mustGetInt(cmd, "workers")
	if workers == 0 {
		workers = cfg.Detection.Workers
	}

	opts := detect.DuplicateOptions{
		HashSize:         mustGetInt(cmd, "hash-size"),
		HammingThreshold: mustGetInt(cmd, "threshold"),
		Exact:            mustGetBool(cmd, "exact"),
	}

	service := detect.NewDuplicateService(source, detect.NewCache(), workers)
	ctx := context.Background()

	if all {
		return runDuplicatesAll(ctx, service, source, opts)
	}

	species, err := source.Resolve(args[0])
	if err != nil {
		return fmt.Errorf("unknown species %q: %w", args[0], err)
	}

	result, err := service.FindDuplicates(ctx, species, opts)
	if err != nil {
		return fmt.Errorf("duplicate scan failed: %w", err)
	}
	printDuplicateResult(result)
	return nil
}

func runDuplicatesAll(ctx context.Context, service *detect.DuplicateService, source *library.Source, opts detect.DuplicateOptions) error {
	names, err := source.SpeciesList()
	if err != nil {
		return fmt.Errorf("failed to list species: %w", err)
	}
	if len(names) == 0 {
		fmt.Println("No species found.")
		return nil
	}

	bar := progressbar.NewOptions(len(names),
		progressbar.OptionSetDescription("Scanning species"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	summary, err := service.FindAllDuplicates(ctx, opts, func(string, detect.DuplicateResult) {
		_ = bar.Add(1)
	})
	fmt.Println()
	if err != nil {
		return fmt.Errorf("collection scan failed: %w", err)
	}

	fmt.Printf("\nScanned %d species, %d images\n", summary.TotalSpeciesScanned, summary.TotalImages)
	fmt.Printf("Species with duplicates: %d\n", summary.SpeciesWithDuplicates)
	fmt.Printf("Duplicate groups: %d (%d removable images)\n", summary.TotalGroups, summary.TotalDuplicates)

	for _, result := range summary.SpeciesResults {
		fmt.Printf("\n%s: %d group(s), %d duplicate(s)\n", result.Species, len(result.DuplicateGroups), result.TotalDuplicates)
	}
	return nil
}

func printDuplicateResult(result detect.DuplicateResult) {
	fmt.Printf("Species: %s\n", result.Species)
	fmt.Printf("Images: %d total, %d hashed\n", result.TotalImages, result.HashedImages)
	if result.Message != "" {
		fmt.Println(result.Message)
		return
	}

	if len(result.DuplicateGroups) == 0 {
		fmt.Println("No duplicates found.")
	}
	for _, group := range result.DuplicateGroups {
		fmt.Printf("\nGroup %d (%d images):\n", group.GroupID, group.TotalInGroup)
		fmt.Printf("  keep    %s (%d bytes)\n", group.Keep.Filename, group.Keep.Size)
		for _, dup := range group.Duplicates {
			fmt.Printf("  delete  %s (%d bytes)\n", dup.Filename, dup.Size)
		}
	}
	if result.TotalDuplicates > 0 {
		fmt.Printf("\n%d image(s) can be removed\n", result.TotalDuplicates)
	}

	for _, failure := range result.Failures {
		fmt.Printf("Warning: %s: %s\n", failure.File, failure.Error)
	}
}
