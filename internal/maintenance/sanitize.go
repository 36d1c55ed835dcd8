package maintenance

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/smokeharness/internal/metrics"
	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

// ErrProcessCleanup marks a sanitation that left processes behind. It is a
// warning: callers log it and carry on.
var ErrProcessCleanup = errors.New("browser processes remain after sanitation")

// DefaultSettle gives killed processes time to exit before re-counting
const DefaultSettle = 500 * time.Millisecond

// ProcessKiller terminates and finds processes by pattern
type ProcessKiller interface {
	Kill(ctx context.Context, pattern string) models.KillAttempt
	Find(ctx context.Context, pattern string) ([]int, error)
}

// ContainerSweeper removes harness-managed browser containers
type ContainerSweeper interface {
	RemoveManaged(ctx context.Context) []models.KillAttempt
	CountManaged(ctx context.Context) (int, error)
}

// DefaultPatterns returns the browser process patterns for the host OS
func DefaultPatterns() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"chrome.exe", "msedge.exe", "chromium.exe", "headless_shell.exe"}
	case "darwin":
		return []string{"Google Chrome", "Chromium", "Microsoft Edge", "headless_shell", "ms-playwright/webkit"}
	}
	return []string{"chrome", "chromium", "msedge", "headless_shell", "ms-playwright/webkit"}
}

type Sanitizer struct {
	killer   ProcessKiller
	sweeper  ContainerSweeper
	patterns []string
	settle   time.Duration
	logger   *zap.Logger
}

// SanitizerOptions configure a Sanitizer
type SanitizerOptions struct {
	// Sweeper is optional; nil skips container cleanup
	Sweeper  ContainerSweeper
	Patterns []string
	// Settle is how long to wait before re-counting
	Settle time.Duration
	Logger *zap.Logger
}

// NewSanitizer returns a Sanitizer killing processes through killer
func NewSanitizer(killer ProcessKiller, opts SanitizerOptions) *Sanitizer {
	s := &Sanitizer{
		killer:   killer,
		sweeper:  opts.Sweeper,
		patterns: opts.Patterns,
		settle:   opts.Settle,
		logger:   opts.Logger,
	}
	if len(s.patterns) == 0 {
		s.patterns = DefaultPatterns()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Sanitize issues every kill attempt, then re-counts what is left. A
// non-zero remainder is logged as a warning, never returned as an error.
func (s *Sanitizer) Sanitize(ctx context.Context) models.SanitizeResult {
	result := models.SanitizeResult{Attempts: []models.KillAttempt{}}

	for _, pattern := range s.patterns {
		attempt := s.killer.Kill(ctx, pattern)
		s.record(attempt)
		result.Attempts = append(result.Attempts, attempt)
	}

	if s.sweeper != nil {
		for _, attempt := range s.sweeper.RemoveManaged(ctx) {
			s.record(attempt)
			result.Attempts = append(result.Attempts, attempt)
		}
	}

	if s.settle > 0 {
		t := time.NewTimer(s.settle)
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		t.Stop()
	}

	result.RemainingCount = s.remaining(ctx)
	if err := Warning(result); err != nil {
		s.logger.Warn("manual intervention may be required", zap.Error(err))
	} else {
		s.logger.Info("no browser processes remain")
	}
	return result
}

// Warning returns ErrProcessCleanup when processes remain
func Warning(result models.SanitizeResult) error {
	if result.RemainingCount == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d still running", ErrProcessCleanup, result.RemainingCount)
}

func (s *Sanitizer) record(attempt models.KillAttempt) {
	metrics.KillAttempted(attempt.Outcome)

	fields := []zap.Field{zap.String("pattern", attempt.Pattern), zap.String("outcome", string(attempt.Outcome))}
	switch attempt.Outcome {
	case models.KillKilled:
		s.logger.Info("terminated", fields...)
	case models.KillNotFound:
		s.logger.Debug("nothing to terminate", fields...)
	default:
		s.logger.Warn("termination failed", append(fields, zap.String("detail", attempt.Detail))...)
	}
}

// remaining counts unique matching pids plus managed containers. Patterns
// overlap, so the same process may match several.
func (s *Sanitizer) remaining(ctx context.Context) int {
	pids := make(map[int]struct{})
	for _, pattern := range s.patterns {
		found, err := s.killer.Find(ctx, pattern)
		if err != nil {
			s.logger.Warn("failed to count processes", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		for _, pid := range found {
			pids[pid] = struct{}{}
		}
	}

	count := len(pids)
	if s.sweeper != nil {
		n, err := s.sweeper.CountManaged(ctx)
		if err != nil {
			s.logger.Debug("failed to count containers", zap.Error(err))
		}
		count += n
	}
	return count
}
