package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/smokeharness/internal/api"
	"github.com/shehryarbajwa/smokeharness/internal/app"
	"github.com/shehryarbajwa/smokeharness/internal/config"
	"github.com/shehryarbajwa/smokeharness/internal/logging"
	"github.com/shehryarbajwa/smokeharness/internal/ratelimit"
	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		os.Exit(1)
	}

	logger := logging.Must(cfg.DebugLogs)
	defer logger.Sync()

	logger.Info("starting harness server")

	harness, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to start harness", zap.Error(err))
	}
	logger.Info("harness ready",
		zap.Int("scenarios", len(harness.Catalogue())),
		zap.String("artifacts", cfg.ArtifactsDir),
		zap.String("db", cfg.DBPath))

	// 100 requests/hour per client, burst of 10
	rateLimiter := ratelimit.NewLimiter(100, 10)

	handler := api.NewHandler(harness, harness.Sessions(), logger)
	maintenanceHandler := api.NewMaintenanceHandler(harness.Resetter(), harness.Sanitizer(), logger)
	router := handler.SetupRoutes(maintenanceHandler, harness.Events(), rateLimiter)

	srv := newServer(cfg.Listen, router, cfg.Profile.Timeouts)

	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.Listen),
			zap.String("base_url", cfg.BaseURL),
			zap.Int("rate_limit_per_hour", rateLimiter.RequestsPerHour()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := harness.Close(); err != nil {
		logger.Error("failed to release browsers", zap.Error(err))
	}

	logger.Info("server stopped cleanly")
}

// writeSlack covers the kill commands and settle delay of a sanitize request
const writeSlack = 30 * time.Second

// newServer sizes WriteTimeout so a reset, which launches a browser and then
// loads the app, can finish before the response is cut off.
func newServer(addr string, handler http.Handler, timeouts models.TimeoutTier) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: timeouts.Launch + timeouts.Test + writeSlack,
		IdleTimeout:  60 * time.Second,
	}
}
