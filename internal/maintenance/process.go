package maintenance

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

// CommandRunner runs a program and returns its combined output and exit
// code. err is only set when the program could not run at all.
type CommandRunner func(ctx context.Context, name string, args ...string) (output []byte, exitCode int, err error)

// ExecRunner runs commands with os/exec
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, exitErr.ExitCode(), nil
	}
	if err != nil {
		return out, -1, err
	}
	return out, 0, nil
}

// SystemKiller uses pkill/pgrep, or taskkill/tasklist on Windows
type SystemKiller struct {
	run  CommandRunner
	goos string
}

// NewSystemKiller returns a killer that shells out through run
func NewSystemKiller(run CommandRunner) *SystemKiller {
	if run == nil {
		run = ExecRunner
	}
	return &SystemKiller{run: run, goos: runtime.GOOS}
}

func (k *SystemKiller) windows() bool {
	return k.goos == "windows"
}

// Kill terminates processes matching pattern and reports the outcome
func (k *SystemKiller) Kill(ctx context.Context, pattern string) models.KillAttempt {
	attempt := models.KillAttempt{Pattern: pattern}

	var out []byte
	var code int
	var err error
	if k.windows() {
		out, code, err = k.run(ctx, "taskkill", "/F", "/T", "/IM", pattern)
	} else {
		out, code, err = k.run(ctx, "pkill", "-9", "-f", pattern)
	}
	if err != nil {
		attempt.Outcome = models.KillError
		attempt.Detail = err.Error()
		return attempt
	}

	text := strings.TrimSpace(string(out))
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "not permitted") || strings.Contains(lower, "access is denied"):
		attempt.Outcome = models.KillPermissionDenied
		attempt.Detail = text
	case code == 0:
		attempt.Outcome = models.KillKilled
	case !k.windows() && code == 1:
		attempt.Outcome = models.KillNotFound
	case k.windows() && code == 128:
		attempt.Outcome = models.KillNotFound
	default:
		attempt.Outcome = models.KillError
		attempt.Detail = fmt.Sprintf("exit status %d: %s", code, text)
	}
	return attempt
}

// Find lists the PIDs of processes matching pattern
func (k *SystemKiller) Find(ctx context.Context, pattern string) ([]int, error) {
	if k.windows() {
		return k.findWindows(ctx, pattern)
	}

	out, code, err := k.run(ctx, "pgrep", "-f", pattern)
	if err != nil {
		return nil, err
	}
	switch code {
	case 0:
	case 1:
		return nil, nil
	default:
		return nil, fmt.Errorf("pgrep exit status %d: %s", code, strings.TrimSpace(string(out)))
	}

	var pids []int
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, scanner.Err()
}

func (k *SystemKiller) findWindows(ctx context.Context, pattern string) ([]int, error) {
	out, code, err := k.run(ctx, "tasklist", "/FI", "IMAGENAME eq "+pattern, "/FO", "CSV", "/NH")
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("tasklist exit status %d: %s", code, strings.TrimSpace(string(out)))
	}
	if strings.HasPrefix(strings.TrimSpace(string(out)), "INFO:") {
		return nil, nil
	}

	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse tasklist output: %w", err)
	}
	var pids []int
	for _, rec := range records {
		if len(rec) < 2 {
			continue
		}
		if pid, err := strconv.Atoi(rec[1]); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}
