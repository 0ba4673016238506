package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/kozaktomas/pixpursuit/internal/web/handlers"
	"github.com/kozaktomas/pixpursuit/internal/web/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes() {
	d := s.deps
	authHandler := handlers.NewAuthHandler(d.Auth)
	imagesHandler := handlers.NewImagesHandler(handlers.ImagesConfig{
		Catalog:    d.Catalog,
		Ingester:   d.Ingester,
		Library:    d.Library,
		Index:      d.Index,
		Dispatcher: d.Dispatcher,
		Zip:        d.Zip,
		Scraper:    d.Scraper,
		SharePoint: d.SharePoint,
	})
	albumsHandler := handlers.NewAlbumsHandler(d.Catalog, d.Library)
	tagsHandler := handlers.NewTagsHandler(d.Catalog, d.Trainer)
	facesHandler := handlers.NewFacesHandler(d.Faces)

	// Health check and metrics (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		// Auth routes are public but rate limited per client IP
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(constants.AuthRateLimit, time.Minute))
			r.Post("/token", authHandler.Token)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/register", authHandler.Register)
			r.Get("/verify-email", authHandler.VerifyEmail)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(d.Auth.Tokens()))

			// Images
			r.Post("/process-images", imagesHandler.Process)
			r.Post("/upload-zip", imagesHandler.UploadZip)
			r.Post("/scrape-images", imagesHandler.Scrape)
			r.Post("/sharepoint-upload", imagesHandler.SharePointUpload)
			r.Delete("/delete-images", imagesHandler.Delete)
			r.Post("/relocate-images", imagesHandler.Relocate)
			r.Post("/find-similar-images", imagesHandler.FindSimilar)
			r.Get("/images/{id}", imagesHandler.Get)
			r.Post("/like", imagesHandler.Like)
			r.Post("/view/{id}", imagesHandler.View)
			r.Post("/description", imagesHandler.Description)

			// Albums
			r.Get("/albums", albumsHandler.List)
			r.Post("/albums", albumsHandler.Create)
			r.Delete("/albums", albumsHandler.Delete)
			r.Get("/albums/{id}", albumsHandler.Get)
			r.Put("/albums/{id}", albumsHandler.Rename)
			r.Post("/albums/{id}/images", albumsHandler.AddImages)

			// Tags
			r.Get("/tags", tagsHandler.List)
			r.Post("/add-user-tag", tagsHandler.AddToImage)
			r.Post("/add-tags-to-albums", tagsHandler.AddToAlbums)
			r.Post("/remove-user-tag", tagsHandler.Remove)
			r.Post("/feedback-on-tags", tagsHandler.Feedback)

			// Faces
			r.Post("/add-names", facesHandler.AddName)
		})
	})
}
