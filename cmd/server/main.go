package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rpattn/prodfacts/internal/config"
	"github.com/rpattn/prodfacts/internal/db"
	"github.com/rpattn/prodfacts/internal/ingestion"
	"github.com/rpattn/prodfacts/internal/jobs"
	"github.com/rpattn/prodfacts/internal/logging"
	"github.com/rpattn/prodfacts/internal/middleware"
	"github.com/rpattn/prodfacts/internal/monitor"
	"github.com/rpattn/prodfacts/internal/repository"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/pflag"
)

func main() {
	configDir := pflag.String("config", ".", "directory containing config.yaml")
	pflag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		bootLogger := logging.New("info", false)
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Pretty)

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run migrations
	if err := db.RunMigrations(cfg.Database, logging.Component(logger, "migrate")); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database, logging.Component(logger, "db"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer conn.Close()

	// Create repositories
	jobRepo := repository.NewIngestionJobRepository(conn.Pool)
	factRepo := repository.NewProductionFactRepository(conn, logging.Component(logger, "facts"))
	logRepo := repository.NewIngestionLogRepository(conn.Pool)
	integrityRepo := repository.NewIntegrityRepository(conn.Pool)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitor.NewMetrics(registry)
	httpMetrics := middleware.NewHTTPMetrics(registry)

	parser, err := ingestion.NewParser(ingestion.Options{
		Separator:   cfg.Ingestion.Separator,
		AnchorLabel: cfg.Ingestion.AnchorLabel,
		NoiseMarker: cfg.Ingestion.NoiseMarker,
		Encoding:    cfg.Ingestion.Encoding,
	}, logging.Component(logger, "parser"))
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid ingestion settings")
	}

	machine := jobs.NewMachine(jobRepo, logging.Component(logger, "jobs"))
	service := ingestion.NewService(parser, machine, factRepo, logRepo, metrics, logging.Component(logger, "ingestion"))

	integrityMonitor := monitor.New(jobRepo, integrityRepo, metrics, cfg.Monitor.StuckThreshold, logging.Component(logger, "monitor"))
	go integrityMonitor.Run(ctx, cfg.Monitor.Interval)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	router := chi.NewRouter()
	router.Use(corsHandler.Handler)
	router.Use(middleware.LoggingMiddleware(logging.Component(logger, "http")))
	router.Use(httpMetrics.Middleware)

	router.Route("/api/ingestions", ingestion.NewHTTPHandler(service, cfg.Ingestion.MaxUploadBytes, logger).Routes)
	router.Route("/health", monitor.NewHTTPHandler(integrityMonitor, logger).Routes)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("starting HTTP server")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	cancel()
	service.Wait()

	logger.Info().Msg("server exited")
}
