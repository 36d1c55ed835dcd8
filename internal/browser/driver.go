package browser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

// Driver launches browsers for one or more engine kinds
type Driver interface {
	Name() string
	Supports(kind models.EngineKind) bool
	// Probe checks that the engine could be launched without launching it
	Probe(ctx context.Context, kind models.EngineKind) error
	Launch(ctx context.Context, kind models.EngineKind, profile models.EnvironmentProfile) (Browser, error)
	Close() error
}

// Browser is one running engine instance
type Browser interface {
	Backend() string
	NewPage(ctx context.Context) (Page, error)
	// Close is idempotent
	Close() error
}

// Page is a single tab. Every call is bounded by the context deadline.
type Page interface {
	// Goto returns the main document status, or 0 when there was no response
	Goto(ctx context.Context, url string) (int, error)
	WaitVisible(ctx context.Context, selector string) error
	Count(ctx context.Context, selector string) (int, error)
	Text(ctx context.Context, selector string) (string, error)
	Click(ctx context.Context, selector string) error
	Evaluate(ctx context.Context, expression string) (any, error)
	Close() error
}

// Registry routes each engine kind to the first driver that can serve it
type Registry struct {
	drivers []Driver
	logger  *zap.Logger
}

// NewRegistry creates a registry; drivers are tried in the given order
func NewRegistry(logger *zap.Logger, drivers ...Driver) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{drivers: drivers, logger: logger}
}

func (r *Registry) Name() string {
	return "registry"
}

func (r *Registry) Supports(kind models.EngineKind) bool {
	for _, d := range r.drivers {
		if d.Supports(kind) {
			return true
		}
	}
	return false
}

// Probe succeeds when any driver can serve kind
func (r *Registry) Probe(ctx context.Context, kind models.EngineKind) error {
	var errs []error
	for _, d := range r.drivers {
		if !d.Supports(kind) {
			continue
		}
		err := d.Probe(ctx, kind)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
	}
	if len(errs) == 0 {
		return fmt.Errorf("%s: %w", kind, ErrUnsupportedEngine)
	}
	return errors.Join(errs...)
}

// Launch tries each driver that supports kind. It only falls through to the
// next driver when the engine is missing; crashes and timeouts are returned.
func (r *Registry) Launch(ctx context.Context, kind models.EngineKind, profile models.EnvironmentProfile) (Browser, error) {
	var lastErr error
	for _, d := range r.drivers {
		if !d.Supports(kind) {
			continue
		}
		start := time.Now()
		b, err := d.Launch(ctx, kind, profile)
		if err == nil {
			r.logger.Debug("browser launched",
				zap.String("engine", string(kind)),
				zap.String("backend", d.Name()),
				zap.Duration("took", time.Since(start)))
			return b, nil
		}
		lastErr = err
		if !IsUnavailable(err) {
			return nil, err
		}
		r.logger.Debug("driver cannot serve engine, trying next",
			zap.String("engine", string(kind)),
			zap.String("backend", d.Name()),
			zap.Error(err))
	}
	if lastErr == nil {
		lastErr = &LaunchError{Engine: kind, Backend: r.Name(), Err: ErrUnsupportedEngine}
	}
	return nil, lastErr
}

// Close closes every driver and returns the joined errors
func (r *Registry) Close() error {
	var errs []error
	for _, d := range r.drivers {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ProfileDirFor returns the persistent profile directory of kind, or "" when
// launches use a throwaway profile. Engines never share a directory.
func ProfileDirFor(profile models.EnvironmentProfile, kind models.EngineKind) string {
	if profile.ProfileDir == "" {
		return ""
	}
	return filepath.Join(profile.ProfileDir, string(kind))
}

// deadlineMillis converts the remaining context time to milliseconds,
// falling back when the context has no deadline
func deadlineMillis(ctx context.Context, fallback time.Duration) float64 {
	if dl, ok := ctx.Deadline(); ok {
		remaining := time.Until(dl)
		if remaining < time.Millisecond {
			remaining = time.Millisecond
		}
		return float64(remaining.Milliseconds())
	}
	return float64(fallback.Milliseconds())
}
