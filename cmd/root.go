package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "species-curator",
	Short: "Curate a species-labeled image collection",
	Long: `Species Curator finds near-duplicate and visually similar images in a
species-labeled collection and flags images that sit unusually far from
their species' typical appearance, so low-value images can be reviewed
and removed before the collection is used for classification work.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
