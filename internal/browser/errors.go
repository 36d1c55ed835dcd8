package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

var (
	ErrEngineUnavailable   = errors.New("engine unavailable")
	ErrChannelNotInstalled = errors.New("browser channel not installed")
	ErrUnsupportedEngine   = errors.New("engine not supported by driver")
	ErrLaunchTimeout       = errors.New("launch timed out")
	ErrWaitTimeout         = errors.New("wait timed out")
	ErrBrowserClosed       = errors.New("browser closed")
)

// LaunchError is fatal to one session only
type LaunchError struct {
	Engine  models.EngineKind
	Backend string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s via %s: %v", e.Engine, e.Backend, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// NavigationError means the target was unreachable or answered with a failure status
type NavigationError struct {
	URL    string
	Status int
	Err    error
}

func (e *NavigationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("navigate to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("navigate to %s failed: status %d", e.URL, e.Status)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// TimeoutError records what was awaited when a wait expired
type TimeoutError struct {
	Step     string
	Selector string
	Timeout  time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %v waiting for %q", e.Step, e.Timeout, e.Selector)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// AssertionFailure is an explicit expectation mismatch
type AssertionFailure struct {
	Description string
	Expected    string
	Actual      string
}

func (e *AssertionFailure) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, got %s", e.Description, e.Expected, e.Actual)
}

// IsTimeout reports whether err came from an expired wait or deadline
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrWaitTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsUnavailable reports whether a launch failed because the engine is missing,
// as opposed to crashing or timing out
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrEngineUnavailable) ||
		errors.Is(err, ErrChannelNotInstalled) ||
		errors.Is(err, ErrUnsupportedEngine)
}
