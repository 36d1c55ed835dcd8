package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/smokeharness/internal/app"
	"github.com/shehryarbajwa/smokeharness/internal/config"
	"github.com/shehryarbajwa/smokeharness/internal/logging"
	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

func main() {
	os.Exit(run())
}

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

	outcome, err := harness.Resetter().ResetAutoSave(ctx)
	if err != nil {
		logger.Error("reset failed", zap.String("base_url", cfg.BaseURL), zap.Error(err))
		return 1
	}

	if outcome.HadPriorState {
		fmt.Printf("cleared %s\n", outcome.ClearedKey)
	} else {
		fmt.Printf("%s was already empty\n", models.AutoSaveKey)
	}
	return 0
}
