package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/smokeharness/internal/app"
	"github.com/shehryarbajwa/smokeharness/internal/config"
	"github.com/shehryarbajwa/smokeharness/internal/logging"
	"github.com/shehryarbajwa/smokeharness/internal/orchestrator"
	"github.com/shehryarbajwa/smokeharness/internal/report"
	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code. Interrupts are not trapped; an
// aborted run leaves browsers for kill-browsers to clean up.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		return 1
	}

	logger := logging.Must(cfg.DebugLogs)
	defer logger.Sync()

	ctx := context.Background()
	harness, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start harness", zap.Error(err))
		return 1
	}
	defer harness.Close()

	logger.Info("starting run",
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("headless", cfg.Profile.Headless),
		zap.Bool("ci", cfg.CI),
		zap.Int("workers", cfg.Workers))

	rep, paths, err := harness.RunAndRecord(ctx, models.RunRequest{})
	if rep == nil {
		if errors.Is(err, orchestrator.ErrExclusiveScenario) {
			logger.Error("remove the only marker before running in CI", zap.Error(err))
		} else {
			logger.Error("run failed", zap.Error(err))
		}
		return 1
	}
	if err != nil {
		logger.Warn("run finished but was not fully recorded", zap.Error(err))
	}

	fmt.Println(report.RenderMarkdown(rep))
	if paths.JSON != "" {
		logger.Info("report written", zap.String("json", paths.JSON), zap.String("markdown", paths.Markdown))
	}
	if paths.Bundle != "" {
		logger.Info("artifacts bundled", zap.String("bundle", paths.Bundle))
	}

	if !rep.Passed {
		return 1
	}
	return 0
}
