package cmd

import (
	"errors"
	"fmt"

	"github.com/vkadlec/species-curator/internal/config"
	"github.com/vkadlec/species-curator/internal/library"
	"github.com/vkadlec/species-curator/internal/vecindex"
)

// newSource builds the image source from configuration. Every command
// that touches the collection needs CURATOR_IMAGE_DIR set.
func newSource(cfg *config.Config) (*library.Source, error) {
	if cfg.Library.ImageDir == "" {
		return nil, errors.New("CURATOR_IMAGE_DIR environment variable is required")
	}
	return library.NewSource(cfg.Library.ImageDir), nil
}

// loadStore opens the precomputed embedding index when one is
// configured. A missing or broken index is a warning, not an error;
// similarity detection falls back to on-demand embedding computation.
func loadStore(cfg *config.Config) *vecindex.Store {
	if cfg.Index.Dir == "" {
		return nil
	}
	store, err := vecindex.Load(cfg.Index.Dir)
	if err != nil {
		fmt.Printf("Warning: embedding index unavailable: %v\n", err)
		return nil
	}
	meta := store.Metadata()
	fmt.Printf("Embedding index loaded: %d vectors, model %s\n", meta.VectorCount, meta.Model)
	return store
}
