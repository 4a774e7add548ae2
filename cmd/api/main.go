package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tripnest/booking-payments/internal/bootstrap"
	"github.com/tripnest/booking-payments/internal/config"
	"github.com/tripnest/booking-payments/pkg/logger"
	"github.com/tripnest/booking-payments/pkg/monitoring"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger, err := logger.New(logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		Service:  "booking-payments",
		Sampling: cfg.IsProduction(),
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting TripNest booking and payments service",
		logger.String("env", cfg.Server.Env),
		logger.String("port", cfg.Server.Port),
		logger.String("storage", cfg.Storage.Driver),
		logger.String("payment_provider", cfg.Gateway.Provider),
	)

	// Initialize New Relic
	nrApp, err := monitoring.New(monitoring.Config{
		LicenseKey: cfg.NewRelic.LicenseKey,
		AppName:    cfg.NewRelic.AppName,
		Enabled:    cfg.NewRelic.Enabled,
		LogLevel:   cfg.NewRelic.LogLevel,
	})
	if err != nil {
		appLogger.Warn("Failed to initialize New Relic", logger.Err(err))
		nrApp = monitoring.Disabled()
	} else if nrApp.IsEnabled() {
		appLogger.Info("New Relic APM initialized successfully",
			logger.String("app_name", cfg.NewRelic.AppName))
	} else {
		appLogger.Info("New Relic APM disabled")
	}
	defer nrApp.Shutdown(10 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, appLogger, nrApp)
	if err != nil {
		appLogger.Error("Failed to initialize application", logger.Err(err))
		os.Exit(1)
	}
	defer app.Close()

	go app.RunBackground(ctx)

	// Background tasks run in-process
	worker := app.Worker()
	if err := worker.Start(); err != nil {
		appLogger.Error("Failed to start task worker", logger.Err(err))
		os.Exit(1)
	}

	scheduler, err := app.Scheduler()
	if err != nil {
		appLogger.Error("Failed to create sweep scheduler", logger.Err(err))
		os.Exit(1)
	}
	if scheduler != nil {
		if err := scheduler.Start(); err != nil {
			appLogger.Error("Failed to start sweep scheduler", logger.Err(err))
			os.Exit(1)
		}
	}

	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:        app.Router(),
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("Server starting", logger.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		appLogger.Error("Server failed", logger.Err(err))
	}

	appLogger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", logger.Err(err))
	}
	if scheduler != nil {
		scheduler.Shutdown()
	}
	worker.Shutdown()

	appLogger.Info("Server stopped gracefully")
}
