package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vkadlec/species-curator/internal/config"
	"github.com/vkadlec/species-curator/internal/detect"
)

var outliersCmd = &cobra.Command{
	Use:   "outliers <species>",
	Short: "Flag images far from their species centroid",
	Long: `Flag images of one species whose embedding sits unusually far from the
species centroid. Requires a precomputed embedding index with species
statistics; build one with the index command.`,
	Args: cobra.ExactArgs(1),
	RunE: runOutliers,
}

func init() {
	rootCmd.AddCommand(outliersCmd)

	outliersCmd.Flags().Float64("percentile", 95, "Distance percentile above which images are flagged (80-99)")
}

func runOutliers(cmd *cobra.Command, args []string) error {
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
	service := detect.NewOutlierService(store)
	if !service.Available() {
		return errors.New("outlier detection needs an embedding index with species statistics; run 'species-curator index' first")
	}

	result, err := service.DetectOutliers(species, mustGetFloat64(cmd, "percentile"))
	if err != nil {
		return fmt.Errorf("outlier scan failed: %w", err)
	}

	fmt.Printf("Species: %s (%d indexed images)\n", result.Species, result.TotalImages)
	if result.Message != "" {
		fmt.Println(result.Message)
		return nil
	}

	fmt.Printf("Distance cutoff: %.4f (p%.0f), mean %.4f, std %.4f\n",
		result.ComputedThreshold, result.ThresholdPercentile, result.MeanDistance, result.StdDistance)
	if result.OutlierCount == 0 {
		fmt.Println("No outliers found.")
		return nil
	}

	fmt.Printf("\n%d outlier(s):\n", result.OutlierCount)
	for _, outlier := range result.Outliers {
		fmt.Printf("  %-40s distance %.4f  z %.2f\n", outlier.Filename, outlier.DistanceToCentroid, outlier.ZScore)
	}
	return nil
}
