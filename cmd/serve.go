package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vkadlec/species-curator/internal/config"
	"github.com/vkadlec/species-curator/internal/deletion"
	"github.com/vkadlec/species-curator/internal/detect"
	"github.com/vkadlec/species-curator/internal/embedding"
	"github.com/vkadlec/species-curator/internal/web"
	"github.com/vkadlec/species-curator/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the curation web server",
	Long: `Start the Species Curator web server.
The server exposes the detection endpoints (duplicates, similar images,
outliers), the deletion queue and async collection scans under /api/v1.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command, cfg *config.Config) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if os.Getenv("WEB_PORT") != "" {
		port = cfg.Web.Port
	}
	if cfg.Web.Host != "" {
		host = cfg.Web.Host
	}
	return port, host
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	source, err := newSource(cfg)
	if err != nil {
		return err
	}
	store := loadStore(cfg)
	if store == nil {
		fmt.Println("No embedding index configured; similarity falls back to on-demand embeddings and outlier detection is unavailable")
	}

	queue, err := deletion.NewService(cfg.Library.ImageDir, cfg.Detection.PreviewWarnSize)
	if err != nil {
		return fmt.Errorf("failed to create deletion queue: %w", err)
	}

	cache := detect.NewCache()
	provider := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.Model)
	duplicates := detect.NewDuplicateService(source, cache, cfg.Detection.Workers)
	similarity := detect.NewSimilarityService(source, cache, provider, store, cfg.Detection.Workers)
	outliers := detect.NewOutlierService(store)

	services := handlers.Services{
		Source:     source,
		Cache:      cache,
		Duplicates: duplicates,
		Similarity: similarity,
		Outliers:   outliers,
		Combined:   detect.NewCombinedService(duplicates, similarity, outliers),
		Queue:      queue,
		Store:      store,
	}

	port, host := resolveServeHostPort(cmd, cfg)
	server := web.NewServer(cfg, port, host, services)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Species Curator on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
