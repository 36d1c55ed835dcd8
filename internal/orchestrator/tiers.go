package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

// TierRunner executes a non-browser tier
type TierRunner interface {
	RunTier(ctx context.Context, tier models.Tier) models.TierResult
}

// outputTail bounds how much command output ends up in a tier detail
const outputTail = 2048

// CommandTierRunner runs unit and integration tiers as shell commands. A
// tier without a command is skipped.
type CommandTierRunner struct {
	Commands map[models.Tier]string
	Dir      string
	// Output receives the command's combined output as it runs
	Output io.Writer
	Logger *zap.Logger
}

// RunTier runs the shell command configured for tier. Tiers without a
// command are skipped.
func (c *CommandTierRunner) RunTier(ctx context.Context, tier models.Tier) (result models.TierResult) {
	start := time.Now()
	result = models.TierResult{Tier: tier}
	defer func() {
		result.Duration = time.Since(start)
		result.DurationMs = result.Duration.Milliseconds()
	}()

	line := strings.TrimSpace(c.Commands[tier])
	if line == "" {
		result.Status = models.TierSkipped
		result.Detail = "no command configured"
		return result
	}

	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var buf bytes.Buffer
	cmd := shellCommand(ctx, line)
	cmd.Dir = c.Dir
	if c.Output != nil {
		cmd.Stdout = io.MultiWriter(&buf, c.Output)
	} else {
		cmd.Stdout = &buf
	}
	cmd.Stderr = cmd.Stdout

	logger.Info("running tier", zap.String("tier", string(tier)), zap.String("command", line))
	if err := cmd.Run(); err != nil {
		result.Status = models.TierFailed
		result.Detail = fmt.Sprintf("%s: %v\n%s", line, err, tail(buf.String(), outputTail))
		logger.Warn("tier failed", zap.String("tier", string(tier)), zap.Error(err))
		return result
	}

	result.Status = models.TierPassed
	return result
}

func shellCommand(ctx context.Context, line string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", line)
	}
	return exec.CommandContext(ctx, "sh", "-c", line)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
