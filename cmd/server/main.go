package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dom/pickup-match/internal/api"
	"github.com/dom/pickup-match/internal/config"
	"github.com/dom/pickup-match/internal/jobs"
	"github.com/dom/pickup-match/internal/logging"
	"github.com/dom/pickup-match/internal/mailer"
	"github.com/dom/pickup-match/internal/metrics"
	"github.com/dom/pickup-match/internal/oauth"
	"github.com/dom/pickup-match/internal/repository/postgres"
	"github.com/dom/pickup-match/internal/service"
	"github.com/dom/pickup-match/internal/storage"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}

	logger := logging.New(cfg.IsDevelopment(), cfg.LogLevel)

	// Initialize database
	db, err := postgres.NewConnection(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Initialize repositories
	repos := postgres.NewRepositories(db)

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := service.Dependencies{
		Repos:  repos,
		Tx:     postgres.NewTransactor(db),
		Config: cfg,
		Logger: logger,
	}

	if cfg.MailEnabled() {
		m := mailer.New(cfg, logger)
		go m.Run(ctx)
		deps.Notifier = m
	} else {
		logger.Warn().Msg("SMTP_HOST not set, verification emails are disabled")
	}

	if cfg.MediaEnabled() {
		media, err := storage.NewMediaStore(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure media storage")
		}
		deps.Media = media
	}

	// Initialize services
	services, err := service.NewServices(deps)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}

	providers := []oauth.Provider{
		oauth.NewKakaoProvider(cfg.KakaoUserInfo, &http.Client{Timeout: 10 * time.Second}),
	}
	if cfg.GoogleClientID != "" {
		providers = append(providers, oauth.NewGoogleProvider(cfg.GoogleClientID))
	}

	// Background jobs
	sweeper := jobs.NewTokenSweeper(repos.RefreshToken, cfg.TokenRetentionAfter, logger)
	scheduler, err := jobs.NewScheduler(sweeper, cfg.TokenSweepInterval)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create scheduler")
	}
	scheduler.Start()

	// Initialize router
	router := api.NewRouter(services, oauth.NewRegistry(providers...), cfg, logger)

	// Create server
	srv := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()

	logger.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := scheduler.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("scheduler shutdown failed")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	logger.Info().Msg("server stopped")
}
