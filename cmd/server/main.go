package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"climatedata-api/internal/config"
	"climatedata-api/internal/handlers"
	"climatedata-api/internal/locator"
	"climatedata-api/internal/repository"
	"climatedata-api/internal/s2d"
	"climatedata-api/internal/services"
	"climatedata-api/internal/store"
	"climatedata-api/pkg/database"
	"climatedata-api/pkg/logging"
	"climatedata-api/pkg/metrics"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", os.Getenv("CLIMATEDATA_CONFIG"), "Path to the YAML configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logLevel, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewStructuredLogger("climatedata-api", version, logLevel)

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting climate data API server", logging.Fields{
		"version":         version,
		"server_host":     cfg.Server.Host,
		"server_port":     cfg.Server.Port,
		"storage_backend": cfg.Storage.Backend,
		"db_enabled":      cfg.Database.Enabled,
	})

	metricsCollector := metrics.NewCollector("climatedata")

	st, err := store.New(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to open dataset store", logging.Fields{
			"backend": cfg.Storage.Backend,
		}, err)
	}
	datasets := locator.New(st, cfg.Datasets, logger, metricsCollector)

	svc := handlers.Services{
		Export:     services.NewExportService(cfg, datasets, logger, metricsCollector),
		ThirtyYear: services.NewThirtyYearService(cfg, datasets, logger, metricsCollector),
		Charts:     services.NewChartService(cfg, datasets, logger, metricsCollector),
		Forecasts:  services.NewForecastService(cfg, s2d.NewMerger(cfg.S2D, datasets, logger), logger, metricsCollector),
	}

	// The station export is the only database consumer
	var health handlers.HealthChecker
	if cfg.Database.Enabled {
		db, err := database.NewPostgresDB(ctx, &database.Config{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.Database,
			SSLMode:         cfg.Database.SSLMode,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
			ReadOnly:        true,
		}, logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{
				"db_host": cfg.Database.Host,
				"db_name": cfg.Database.Database,
			}, err)
		}
		defer db.Close()

		stations := repository.NewStationReader(db, logger, metricsCollector)
		svc.Stations = services.NewStationService(cfg, stations, logger, metricsCollector)
		health = db
	}

	handler := handlers.NewHandler(cfg, svc, health, logger, metricsCollector)

	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	// Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
