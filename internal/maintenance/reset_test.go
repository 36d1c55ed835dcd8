package maintenance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shehryarbajwa/smokeharness/internal/browser"
	"github.com/shehryarbajwa/smokeharness/internal/browser/browsertest"
	"github.com/shehryarbajwa/smokeharness/internal/session"
	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

// storageApp answers ResetScript against the fake local storage
func storageApp() *browsertest.App {
	app := browsertest.NewApp(nil)
	app.Eval = func(expr string, storage map[string]string) (any, error) {
		if expr != ResetScript {
			return nil, errors.New("unexpected expression")
		}
		_, had := storage[models.AutoSaveKey]
		delete(storage, models.AutoSaveKey)
		return had, nil
	}
	return app
}

func newResetter(t *testing.T, app *browsertest.App, profileDir string) (*Resetter, *browsertest.Driver) {
	d := browsertest.NewDriver(app)
	sessions := session.NewManager(d, session.Options{Logger: zaptest.NewLogger(t)})
	return NewResetter(sessions, "http://localhost:3000", "", profileDir, zaptest.NewLogger(t)), d
}

// chromiumDir is where a chromium launch with profileDir keeps its storage
func chromiumDir(profileDir string) string {
	return browser.ProfileDirFor(models.EnvironmentProfile{ProfileDir: profileDir}, models.EngineChromium)
}

func TestResetAutoSaveWithoutPriorState(t *testing.T) {
	r, d := newResetter(t, storageApp(), t.TempDir())

	outcome, err := r.ResetAutoSave(context.Background())
	require.NoError(t, err)
	assert.False(t, outcome.HadPriorState)
	assert.Equal(t, models.AutoSaveKey, outcome.ClearedKey)

	launched, closed, _ := d.Stats()
	assert.Equal(t, 1, launched)
	assert.Equal(t, 1, closed)
	require.Len(t, d.Profiles(), 1)
	assert.True(t, d.Profiles()[0].Headless)
}

func TestResetAutoSaveIsIdempotent(t *testing.T) {
	app := storageApp()
	profileDir := t.TempDir()
	app.SetItem(chromiumDir(profileDir), models.AutoSaveKey, `{"segments":[]}`)
	app.SetItem(chromiumDir(profileDir), "theme", "dark")
	r, d := newResetter(t, app, profileDir)

	first, err := r.ResetAutoSave(context.Background())
	require.NoError(t, err)
	assert.True(t, first.HadPriorState)
	assert.False(t, app.HasItem(chromiumDir(profileDir), models.AutoSaveKey))
	assert.True(t, app.HasItem(chromiumDir(profileDir), "theme"), "only the auto-save key is touched")
	assert.Equal(t, profileDir, d.Profiles()[0].ProfileDir)

	second, err := r.ResetAutoSave(context.Background())
	require.NoError(t, err)
	assert.False(t, second.HadPriorState)
}

func TestResetAutoSaveWithThrowawayProfile(t *testing.T) {
	app := storageApp()
	profileDir := t.TempDir()
	app.SetItem(chromiumDir(profileDir), models.AutoSaveKey, `{"segments":[]}`)
	r, _ := newResetter(t, app, "")

	outcome, err := r.ResetAutoSave(context.Background())
	require.NoError(t, err)
	assert.False(t, outcome.HadPriorState, "a fresh profile cannot see stored state")
	assert.True(t, app.HasItem(chromiumDir(profileDir), models.AutoSaveKey))
}

func TestResetAutoSaveUnreachable(t *testing.T) {
	app := storageApp()
	app.NavErr = errors.New("net::ERR_CONNECTION_REFUSED")
	r, d := newResetter(t, app, "")

	_, err := r.ResetAutoSave(context.Background())
	var navErr *browser.NavigationError
	require.ErrorAs(t, err, &navErr)
	assert.Equal(t, "http://localhost:3000", navErr.URL)

	_, _, open := d.Stats()
	assert.Zero(t, open)
}

func TestResetAutoSaveLaunchFailure(t *testing.T) {
	app := storageApp()
	r, d := newResetter(t, app, "")
	d.LaunchErr[models.EngineChromium] = browser.ErrEngineUnavailable

	_, err := r.ResetAutoSave(context.Background())
	assert.ErrorIs(t, err, browser.ErrEngineUnavailable)
}
