package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

type stubDriver struct {
	name      string
	kinds     []models.EngineKind
	launchErr error
	probeErr  error
	launches  int
	closeErr  error
}

func (s *stubDriver) Name() string { return s.name }

func (s *stubDriver) Supports(kind models.EngineKind) bool {
	for _, k := range s.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (s *stubDriver) Probe(ctx context.Context, kind models.EngineKind) error { return s.probeErr }

func (s *stubDriver) Launch(ctx context.Context, kind models.EngineKind, profile models.EnvironmentProfile) (Browser, error) {
	s.launches++
	if s.launchErr != nil {
		return nil, &LaunchError{Engine: kind, Backend: s.name, Err: s.launchErr}
	}
	return stubBrowser(s.name), nil
}

func (s *stubDriver) Close() error { return s.closeErr }

type stubBrowser string

func (b stubBrowser) Backend() string { return string(b) }
func (b stubBrowser) NewPage(ctx context.Context) (Page, error) { return nil, errors.New("no pages") }
func (b stubBrowser) Close() error { return nil }

var headlessProfile = models.NewEnvironmentProfile(models.ProfileOptions{Headless: true})

func TestRegistryFallsThroughWhenUnavailable(t *testing.T) {
	local := &stubDriver{name: "chromedp", kinds: []models.EngineKind{models.EngineChromium}, launchErr: ErrEngineUnavailable}
	docker := &stubDriver{name: "docker", kinds: []models.EngineKind{models.EngineChromium}}
	r := NewRegistry(zaptest.NewLogger(t), local, docker)

	b, err := r.Launch(context.Background(), models.EngineChromium, headlessProfile)
	require.NoError(t, err)
	assert.Equal(t, "docker", b.Backend())
	assert.Equal(t, 1, local.launches)
}

func TestRegistryStopsOnCrash(t *testing.T) {
	local := &stubDriver{name: "chromedp", kinds: []models.EngineKind{models.EngineChromium}, launchErr: ErrLaunchTimeout}
	docker := &stubDriver{name: "docker", kinds: []models.EngineKind{models.EngineChromium}}
	r := NewRegistry(zaptest.NewLogger(t), local, docker)

	_, err := r.Launch(context.Background(), models.EngineChromium, headlessProfile)
	assert.ErrorIs(t, err, ErrLaunchTimeout)
	assert.Zero(t, docker.launches)
}

func TestRegistryUnsupportedEngine(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t), &stubDriver{name: "chromedp", kinds: []models.EngineKind{models.EngineChromium}})

	assert.False(t, r.Supports(models.EngineWebKit))
	_, err := r.Launch(context.Background(), models.EngineWebKit, headlessProfile)
	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.ErrorIs(t, err, ErrUnsupportedEngine)
	assert.ErrorIs(t, r.Probe(context.Background(), models.EngineWebKit), ErrUnsupportedEngine)
}

func TestRegistryProbe(t *testing.T) {
	missing := &stubDriver{name: "chromedp", kinds: []models.EngineKind{models.EngineEdge}, probeErr: ErrChannelNotInstalled}
	pw := &stubDriver{name: "playwright", kinds: []models.EngineKind{models.EngineEdge}, probeErr: ErrEngineUnavailable}
	r := NewRegistry(zaptest.NewLogger(t), missing, pw)

	err := r.Probe(context.Background(), models.EngineEdge)
	assert.ErrorIs(t, err, ErrChannelNotInstalled)
	assert.ErrorIs(t, err, ErrEngineUnavailable)

	pw.probeErr = nil
	assert.NoError(t, r.Probe(context.Background(), models.EngineEdge))
}

func TestRegistryCloseJoinsErrors(t *testing.T) {
	r := NewRegistry(nil,
		&stubDriver{name: "a", closeErr: errors.New("a failed")},
		&stubDriver{name: "b"},
		&stubDriver{name: "c", closeErr: errors.New("c failed")},
	)
	err := r.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a failed")
	assert.Contains(t, err.Error(), "c failed")
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsTimeout(fmt.Errorf("wrap: %w", ErrWaitTimeout)))
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.False(t, IsTimeout(nil))
	assert.False(t, IsTimeout(ErrEngineUnavailable))

	assert.True(t, IsUnavailable(&LaunchError{Err: ErrChannelNotInstalled}))
	assert.False(t, IsUnavailable(&LaunchError{Err: ErrLaunchTimeout}))

	te := &TimeoutError{Step: "waitForSelector", Selector: "#indiaTab", Timeout: 5 * time.Second, Err: ErrWaitTimeout}
	assert.Equal(t, `waitForSelector: timed out after 5s waiting for "#indiaTab"`, te.Error())
	assert.ErrorIs(t, te, ErrWaitTimeout)

	ne := &NavigationError{URL: "http://localhost:3000/", Status: 502}
	assert.Equal(t, "navigate to http://localhost:3000/ failed: status 502", ne.Error())
}

func TestDeadlineMillis(t *testing.T) {
	assert.Equal(t, float64(2000), deadlineMillis(context.Background(), 2*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()
	assert.Greater(t, deadlineMillis(ctx, time.Second), float64(3_000_000))
}

func TestChromedpDriverRejectsWebKit(t *testing.T) {
	d := NewChromedpDriver(zaptest.NewLogger(t), nil)
	assert.False(t, d.Supports(models.EngineWebKit))
	assert.ErrorIs(t, d.Probe(context.Background(), models.EngineWebKit), ErrUnsupportedEngine)

	_, err := d.Launch(context.Background(), models.EngineWebKit, headlessProfile)
	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, "chromedp", launchErr.Backend)
	assert.True(t, IsUnavailable(err))
}

func TestBoundedStopsAtDeadline(t *testing.T) {
	unblock := make(chan struct{})
	defer close(unblock)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	n, err := bounded(ctx, "count .row", func() (int, error) {
		<-unblock
		return 7, nil
	})
	require.Error(t, err)
	assert.Zero(t, n)
	assert.True(t, IsTimeout(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "count .row")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestBoundedReturnsResult(t *testing.T) {
	n, err := bounded(context.Background(), "count", func() (int, error) { return 3, nil })
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = bounded(context.Background(), "evaluate", func() (any, error) {
		return nil, fmt.Errorf("evaluate: %w", playwright.ErrTimeout)
	})
	assert.ErrorIs(t, err, ErrWaitTimeout)
}
