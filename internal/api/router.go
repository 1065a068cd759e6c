package api

import (
	"net/http"

	"github.com/dom/pickup-match/internal/api/handlers"
	"github.com/dom/pickup-match/internal/api/middleware"
	"github.com/dom/pickup-match/internal/config"
	"github.com/dom/pickup-match/internal/domain"
	"github.com/dom/pickup-match/internal/oauth"
	"github.com/dom/pickup-match/internal/service"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func NewRouter(services *service.Services, providers *oauth.Registry, cfg *config.Config, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestLogger(logger)...)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(services.Session, providers)
	matchHandler := handlers.NewMatchHandler(services.Match)
	adminHandler := handlers.NewAdminHandler(services.Session)

	requireAuth := middleware.Auth(services.Session)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public auth routes
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/logout", authHandler.Logout)
			r.Post("/oauth/{provider}", authHandler.OAuth)

			// Protected auth routes
			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Get("/me", authHandler.Me)
				r.Post("/logout-all", authHandler.LogoutAll)
			})
		})

		r.Route("/matches", func(r chi.Router) {
			// Public match browsing
			r.Get("/", matchHandler.List)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Post("/", matchHandler.Create)
				r.Get("/mine", matchHandler.ListMine)
				r.Get("/{id}", matchHandler.Get)
				r.Patch("/{id}", matchHandler.Update)
				r.Delete("/{id}", matchHandler.Delete)
				r.Post("/{id}/accept", matchHandler.Accept)
				r.Post("/{id}/reject", matchHandler.Reject)
				r.Post("/{id}/cancel", matchHandler.Cancel)
				r.Post("/{id}/start", matchHandler.Start)
				r.Post("/{id}/complete", matchHandler.Complete)
				r.Get("/{id}/history", matchHandler.History)
				r.Post("/{id}/media", matchHandler.PresignMedia)
			})
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAuth, middleware.RequireCapability(domain.CapAdmin))
			r.Post("/users/{id}/deactivate", adminHandler.DeactivateUser)
		})
	})

	return r
}
