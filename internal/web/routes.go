package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/vkadlec/species-curator/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	// Create handlers
	speciesHandler := handlers.NewSpeciesHandler(s.services)
	analysisHandler := handlers.NewAnalysisHandler(s.config, s.services)
	queueHandler := handlers.NewQueueHandler(s.services)
	cacheHandler := handlers.NewCacheHandler(s.services)
	scansHandler := handlers.NewScansHandler(s.config, s.services, s.jobManager)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Collection
		r.Get("/species", speciesHandler.List)
		r.Get("/species/{species}", speciesHandler.Get)
		r.Get("/images/{species}/{filename}", speciesHandler.Image)

		// Detection
		r.Route("/analysis", func(r chi.Router) {
			r.Get("/parameters", analysisHandler.Parameters)
			r.Get("/hashes/{species}", analysisHandler.Hashes)
			r.Get("/duplicates/{species}", analysisHandler.Duplicates)
			r.Get("/similar/{species}", analysisHandler.Similar)
			r.Get("/outliers/{species}", analysisHandler.Outliers)
			r.Get("/combined/{species}", analysisHandler.Combined)
			r.Get("/neighbors/{species}/{filename}", analysisHandler.Neighbors)
		})

		// Collection scans (long-running operations)
		r.Post("/scans", scansHandler.Start)
		r.Get("/scans/{jobId}", scansHandler.Status)
		r.Get("/scans/{jobId}/events", scansHandler.Events)
		r.Delete("/scans/{jobId}", scansHandler.Cancel)

		// Deletion queue
		r.Route("/queue", func(r chi.Router) {
			r.Get("/", queueHandler.Get)
			r.Get("/preview", queueHandler.Preview)
			r.Post("/files", queueHandler.Add)
			r.Post("/bulk", queueHandler.AddBulk)
			r.Delete("/files/{species}/{filename}", queueHandler.Remove)
			r.Delete("/", queueHandler.Clear)
			r.Post("/confirm", queueHandler.Confirm)
		})

		// Cache maintenance
		r.Get("/cache/stats", cacheHandler.Stats)
		r.Delete("/cache", cacheHandler.Clear)
	})
}
