// Package maintenance holds the utilities that run outside a test run:
// clearing persisted app state and terminating stray browsers.
package maintenance

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/smokeharness/internal/browser"
	"github.com/shehryarbajwa/smokeharness/internal/session"
	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

// ResetScript removes the auto-save key and reports whether it existed
const ResetScript = `(() => {
	const had = window.localStorage.getItem("` + models.AutoSaveKey + `") !== null;
	window.localStorage.removeItem("` + models.AutoSaveKey + `");
	return had;
})()`

// Resetter clears the application's persisted auto-save state
type Resetter struct {
	sessions *session.Manager
	baseURL  string
	engine   models.EngineKind
	profile  models.EnvironmentProfile
	logger   *zap.Logger
}

// NewResetter always drives a headless browser, whatever the run profile.
// profileDir must be the one scenario sessions use, or there is no stored
// state to find.
func NewResetter(sessions *session.Manager, baseURL string, engine models.EngineKind, profileDir string, logger *zap.Logger) *Resetter {
	if engine == "" {
		engine = models.EngineChromium
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resetter{
		sessions: sessions,
		baseURL:  baseURL,
		engine:   engine,
		profile:  models.NewEnvironmentProfile(models.ProfileOptions{Headless: true, ProfileDir: profileDir}),
		logger:   logger,
	}
}

// ResetAutoSave opens the app, removes the auto-save key and reports
// whether anything was there. A missing key is success.
func (r *Resetter) ResetAutoSave(ctx context.Context) (models.ResetOutcome, error) {
	outcome := models.ResetOutcome{ClearedKey: models.AutoSaveKey}

	err := r.sessions.WithSession(ctx, "", r.engine, r.profile, func(s *session.Session) error {
		pageCtx, cancel := context.WithTimeout(ctx, r.profile.Timeouts.Test)
		defer cancel()

		page, err := s.NewPage(pageCtx)
		if err != nil {
			return fmt.Errorf("failed to open page: %w", err)
		}
		defer page.Close()

		status, err := page.Goto(pageCtx, r.baseURL)
		if err != nil {
			return &browser.NavigationError{URL: r.baseURL, Err: err}
		}
		if status >= 400 {
			return &browser.NavigationError{URL: r.baseURL, Status: status}
		}

		value, err := page.Evaluate(pageCtx, ResetScript)
		if err != nil {
			return fmt.Errorf("failed to clear %s: %w", models.AutoSaveKey, err)
		}
		had, ok := value.(bool)
		if !ok {
			return fmt.Errorf("unexpected reset result %T", value)
		}
		outcome.HadPriorState = had
		return nil
	})
	if err != nil {
		return models.ResetOutcome{}, err
	}

	r.logger.Info("auto-save reset",
		zap.String("key", outcome.ClearedKey),
		zap.Bool("had_prior_state", outcome.HadPriorState))
	return outcome, nil
}
