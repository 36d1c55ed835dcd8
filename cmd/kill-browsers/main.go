package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/smokeharness/internal/browser"
	"github.com/shehryarbajwa/smokeharness/internal/config"
	"github.com/shehryarbajwa/smokeharness/internal/logging"
	"github.com/shehryarbajwa/smokeharness/internal/maintenance"
	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

// Remaining processes are reported but never fail the command
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		os.Exit(1)
	}

	logger := logging.Must(cfg.DebugLogs)
	defer logger.Sync()

	opts := maintenance.SanitizerOptions{Settle: maintenance.DefaultSettle, Logger: logger}
	if docker, err := browser.NewDockerDriver(logger); err == nil {
		defer docker.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if docker.Probe(ctx, models.EngineChromium) == nil {
			opts.Sweeper = docker
		}
		cancel()
	}

	s := maintenance.NewSanitizer(maintenance.NewSystemKiller(maintenance.ExecRunner), opts)
	result := s.Sanitize(context.Background())

	for _, a := range result.Attempts {
		fmt.Printf("%-28s %s\n", a.Pattern, a.Outcome)
	}
	if err := maintenance.Warning(result); err != nil {
		logger.Warn("sanitation incomplete", zap.Error(err))
		return
	}
	fmt.Println("no browser processes remain")
}
