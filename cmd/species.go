package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vkadlec/species-curator/internal/config"
)

var speciesCmd = &cobra.Command{
	Use:   "species",
	Short: "List species and their image counts",
	RunE:  runSpecies,
}

func init() {
	rootCmd.AddCommand(speciesCmd)
}

func runSpecies(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	source, err := newSource(cfg)
	if err != nil {
		return err
	}

	names, err := source.SpeciesList()
	if err != nil {
		return fmt.Errorf("failed to list species: %w", err)
	}

	total := 0
	for _, name := range names {
		count, err := source.CountImages(name)
		if err != nil {
			continue
		}
		total += count
		fmt.Printf("%6d  %s\n", count, name)
	}
	fmt.Printf("\n%d species, %d images\n", len(names), total)
	return nil
}
