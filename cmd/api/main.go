// Command api is the tagwatch notification server. It serves the HTTP API,
// runs the fetch poller and the maintenance jobs, and bridges MQTT reports
// when a broker is configured.
//
// Usage:
//
//	tagwatch-api
//	API_PORT=8080 STATE_BACKEND=sqlite tagwatch-api

// @title tagwatch API
// @version 1.0.0
// @description Find My accessory geofence and battery notifications.
// @BasePath /
// @schemes http https
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tagwatch/tagwatch/internal/api"
	"github.com/tagwatch/tagwatch/internal/app"
	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/maintenance"
	"github.com/tagwatch/tagwatch/internal/mqttbridge"
	"github.com/tagwatch/tagwatch/internal/poller"

	_ "github.com/tagwatch/tagwatch/docs" // swagger docs
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Storage, push senders, MQTT, engine
	svc, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialise services", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	// Consume device reports from MQTT (if a broker is configured)
	if svc.MQTT != nil {
		sub := mqttbridge.NewSubscriber(svc.Store, cfg.MQTTReportTopic, cfg.ReportCacheSize, logger)
		if err := sub.Start(svc.MQTT); err != nil {
			logger.Error("Failed to subscribe to MQTT reports", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("MQTT bridge disabled (no MQTT_BROKER_URL)")
	}

	// Start the fetch poller
	p := poller.New(svc.Store, poller.NewCacheFetcher(svc.Store), svc.Engine, poller.Config{
		Interval:    cfg.FetchInterval,
		Jitter:      cfg.FetchJitter,
		UserTimeout: cfg.UserTaskTimeout,
		Workers:     cfg.PollWorkers,
	}, logger)
	go p.Run(ctx)

	// Start maintenance jobs (history retention)
	go func() {
		mcfg := maintenance.Config{HistoryPruneSchedule: cfg.HistoryPruneSchedule}
		if err := maintenance.Start(ctx, svc.Store, svc.Notifier, mcfg, logger); err != nil {
			logger.Error("Maintenance jobs failed", "error", err)
		}
	}()

	// Create router
	router := api.NewRouter(svc.Store, svc.Engine, svc.Notifier, cfg, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting tagwatch API",
			"addr", addr,
			"environment", cfg.Environment,
			"backend", cfg.StateBackend,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			cancel()
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
