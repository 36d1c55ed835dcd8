package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

// PlaywrightDriver drives Chromium, Edge and WebKit through the Playwright server.
// The server is started lazily on first use and shared by every launch.
type PlaywrightDriver struct {
	install bool
	logger  *zap.Logger

	once   sync.Once
	mu     sync.Mutex
	pw     *playwright.Playwright
	runErr error
}

// NewPlaywrightDriver creates a driver. With install set, missing browsers are
// downloaded before the first launch.
func NewPlaywrightDriver(logger *zap.Logger, install bool) *PlaywrightDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlaywrightDriver{install: install, logger: logger}
}

func (d *PlaywrightDriver) Name() string {
	return "playwright"
}

func (d *PlaywrightDriver) Supports(kind models.EngineKind) bool {
	_, ok := CapabilityFor(kind)
	return ok
}

func (d *PlaywrightDriver) start() (*playwright.Playwright, error) {
	d.once.Do(func() {
		if d.install {
			if err := playwright.Install(&playwright.RunOptions{
				Browsers: []string{"chromium", "webkit"},
			}); err != nil {
				d.runErr = fmt.Errorf("%w: install playwright: %v", ErrEngineUnavailable, err)
				return
			}
		}
		pw, err := playwright.Run()
		if err != nil {
			d.runErr = fmt.Errorf("%w: start playwright: %v", ErrEngineUnavailable, err)
			return
		}
		d.mu.Lock()
		d.pw = pw
		d.mu.Unlock()
	})
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.runErr != nil {
		return nil, d.runErr
	}
	return d.pw, nil
}

// Probe only checks that the Playwright server resolves; channel presence is
// discovered at launch
func (d *PlaywrightDriver) Probe(ctx context.Context, kind models.EngineKind) error {
	if !d.Supports(kind) {
		return ErrUnsupportedEngine
	}
	_, err := d.start()
	return err
}

func (d *PlaywrightDriver) browserType(pw *playwright.Playwright, kind models.EngineKind) playwright.BrowserType {
	if kind == models.EngineWebKit {
		return pw.WebKit
	}
	return pw.Chromium
}

func (d *PlaywrightDriver) Launch(ctx context.Context, kind models.EngineKind, profile models.EnvironmentProfile) (Browser, error) {
	capability, ok := CapabilityFor(kind)
	if !ok {
		return nil, &LaunchError{Engine: kind, Backend: d.Name(), Err: ErrUnsupportedEngine}
	}
	pw, err := d.start()
	if err != nil {
		return nil, &LaunchError{Engine: kind, Backend: d.Name(), Err: err}
	}

	var slowMo *float64
	if profile.SlowMo > 0 {
		slowMo = playwright.Float(float64(profile.SlowMo.Milliseconds()))
	}
	var channel *string
	if capability.Channel != "" {
		channel = playwright.String(capability.Channel)
	}
	viewport := &playwright.Size{Width: profile.Viewport.Width, Height: profile.Viewport.Height}
	timeout := playwright.Float(float64(capability.LaunchTimeoutFor(profile).Milliseconds()))
	var args []string
	if a := capability.LaunchArgs(profile); len(a) > 0 {
		args = a
	}

	// a persistent context keeps local storage between launches; a plain
	// launch plus NewContext starts empty every time
	if dir := ProfileDirFor(profile, kind); dir != "" {
		bctx, err := d.browserType(pw, kind).LaunchPersistentContext(dir, playwright.BrowserTypeLaunchPersistentContextOptions{
			Headless: playwright.Bool(profile.Headless),
			Timeout:  timeout,
			SlowMo:   slowMo,
			Args:     args,
			Channel:  channel,
			Viewport: viewport,
		})
		if err != nil {
			return nil, &LaunchError{Engine: kind, Backend: d.Name(), Err: classifyLaunchError(err)}
		}
		d.logger.Debug("playwright persistent context started",
			zap.String("engine", string(kind)),
			zap.String("profile", dir),
			zap.Bool("headless", profile.Headless))
		return &playwrightBrowser{backend: d.Name(), context: bctx, fallback: capability.SelectorTimeout}, nil
	}

	b, err := d.browserType(pw, kind).Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(profile.Headless),
		Timeout:  timeout,
		SlowMo:   slowMo,
		Args:     args,
		Channel:  channel,
	})
	if err != nil {
		return nil, &LaunchError{Engine: kind, Backend: d.Name(), Err: classifyLaunchError(err)}
	}

	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{Viewport: viewport})
	if err != nil {
		b.Close()
		return nil, &LaunchError{Engine: kind, Backend: d.Name(), Err: err}
	}

	d.logger.Debug("playwright browser started",
		zap.String("engine", string(kind)),
		zap.String("version", b.Version()),
		zap.Bool("headless", profile.Headless))

	return &playwrightBrowser{backend: d.Name(), browser: b, context: bctx, fallback: capability.SelectorTimeout}, nil
}

// Close stops the Playwright server if it was started
func (d *PlaywrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pw == nil {
		return nil
	}
	err := d.pw.Stop()
	d.pw = nil
	return err
}

func classifyLaunchError(err error) error {
	msg := err.Error()
	switch {
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("%w: %v", ErrLaunchTimeout, err)
	case strings.Contains(msg, "distribution") && strings.Contains(msg, "is not found"):
		return fmt.Errorf("%w: %v", ErrChannelNotInstalled, err)
	case strings.Contains(msg, "Executable doesn't exist"), strings.Contains(msg, "playwright install"):
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return err
}

type playwrightBrowser struct {
	backend  string
	// browser is nil for persistent contexts, which own their browser
	browser  playwright.Browser
	context  playwright.BrowserContext
	fallback time.Duration

	mu     sync.Mutex
	closed bool
}

func (b *playwrightBrowser) Backend() string {
	return b.backend
}

func (b *playwrightBrowser) NewPage(ctx context.Context) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrowserClosed
	}
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return &playwrightPage{page: page, fallback: b.fallback}, nil
}

func (b *playwrightBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	ctxErr := b.context.Close()
	if b.browser == nil {
		return ctxErr
	}
	return errors.Join(ctxErr, b.browser.Close())
}

type playwrightPage struct {
	page     playwright.Page
	fallback time.Duration
}

func waitErr(err error) error {
	if err != nil && errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrWaitTimeout, err)
	}
	return err
}

func (p *playwrightPage) Goto(ctx context.Context, url string) (int, error) {
	resp, err := p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(deadlineMillis(ctx, p.fallback)),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	if err != nil {
		return 0, waitErr(err)
	}
	if resp == nil {
		return 0, nil
	}
	return resp.Status(), nil
}

func (p *playwrightPage) WaitVisible(ctx context.Context, selector string) error {
	return waitErr(p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(deadlineMillis(ctx, p.fallback)),
	}))
}

// Count takes no timeout, so it is bounded by ctx instead
func (p *playwrightPage) Count(ctx context.Context, selector string) (int, error) {
	return bounded(ctx, "count "+selector, func() (int, error) {
		return p.page.Locator(selector).Count()
	})
}

func (p *playwrightPage) Text(ctx context.Context, selector string) (string, error) {
	text, err := p.page.Locator(selector).First().TextContent(playwright.LocatorTextContentOptions{
		Timeout: playwright.Float(deadlineMillis(ctx, p.fallback)),
	})
	return text, waitErr(err)
}

func (p *playwrightPage) Click(ctx context.Context, selector string) error {
	return waitErr(p.page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(deadlineMillis(ctx, p.fallback)),
	}))
}

// Evaluate takes no timeout; a promise that never settles is abandoned
// when ctx ends
func (p *playwrightPage) Evaluate(ctx context.Context, expression string) (any, error) {
	return bounded(ctx, "evaluate", func() (any, error) {
		return p.page.Evaluate(expression)
	})
}

func (p *playwrightPage) Close() error {
	return p.page.Close()
}

// bounded runs a call that has no timeout option and stops waiting when ctx
// ends. An abandoned call finishes or fails once its page is closed.
func bounded[T any](ctx context.Context, what string, fn func() (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn()
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.value, waitErr(o.err)
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%s: %w", what, ctx.Err())
	}
}
