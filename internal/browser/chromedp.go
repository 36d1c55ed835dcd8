package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

// ChromedpDriver launches local Chromium and Edge binaries over CDP
type ChromedpDriver struct {
	execPaths map[models.EngineKind]string
	logger    *zap.Logger
}

// NewChromedpDriver creates a driver. execPaths optionally pins a binary per engine.
func NewChromedpDriver(logger *zap.Logger, execPaths map[models.EngineKind]string) *ChromedpDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromedpDriver{execPaths: execPaths, logger: logger}
}

func (d *ChromedpDriver) Name() string {
	return "chromedp"
}

func (d *ChromedpDriver) Supports(kind models.EngineKind) bool {
	return kind == models.EngineChromium || kind == models.EngineEdge
}

func (d *ChromedpDriver) Probe(ctx context.Context, kind models.EngineKind) error {
	_, err := d.resolve(kind)
	return err
}

func (d *ChromedpDriver) resolve(kind models.EngineKind) (string, error) {
	if !d.Supports(kind) {
		return "", ErrUnsupportedEngine
	}
	capability, _ := CapabilityFor(kind)
	path, ok := capability.ResolveExecutable(d.execPaths[kind])
	if ok {
		return path, nil
	}
	if capability.Channel != "" {
		return "", fmt.Errorf("%w: %s", ErrChannelNotInstalled, capability.Channel)
	}
	return "", fmt.Errorf("%w: no %s executable on PATH", ErrEngineUnavailable, kind)
}

func (d *ChromedpDriver) Launch(ctx context.Context, kind models.EngineKind, profile models.EnvironmentProfile) (Browser, error) {
	path, err := d.resolve(kind)
	if err != nil {
		return nil, &LaunchError{Engine: kind, Backend: d.Name(), Err: err}
	}
	capability, _ := CapabilityFor(kind)

	opts := []chromedp.ExecAllocatorOption{
		chromedp.ExecPath(path),
		chromedp.Flag("headless", profile.Headless),
		chromedp.WindowSize(profile.Viewport.Width, profile.Viewport.Height),
	}
	if profile.Headless {
		opts = append(opts, chromedp.Flag("hide-scrollbars", true), chromedp.Flag("mute-audio", true))
	}
	for _, arg := range capability.LaunchArgs(profile) {
		name, value := splitFlag(arg)
		opts = append(opts, chromedp.Flag(name, value))
	}
	// without a user data dir chromedp creates a temp profile and deletes it on close
	if dir := ProfileDirFor(profile, kind); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &LaunchError{Engine: kind, Backend: d.Name(), Err: fmt.Errorf("failed to create profile directory: %w", err)}
		}
		opts = append(opts, chromedp.UserDataDir(dir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	b := &chromedpBrowser{
		backend: d.Name(),
		ctx:     browserCtx,
		slowMo:  profile.SlowMo,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
	}

	if err := startBrowser(ctx, browserCtx, capability.LaunchTimeoutFor(profile)); err != nil {
		b.Close()
		return nil, &LaunchError{Engine: kind, Backend: d.Name(), Err: err}
	}

	d.logger.Debug("chromium started",
		zap.String("engine", string(kind)),
		zap.String("path", path),
		zap.Bool("headless", profile.Headless))

	return b, nil
}

func (d *ChromedpDriver) Close() error {
	return nil
}

// startBrowser allocates the browser on the first Run. The first Run must not
// carry a timeout or the browser dies with it, so the wait is raced instead.
func startBrowser(ctx, browserCtx context.Context, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(browserCtx)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrLaunchTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

type chromedpBrowser struct {
	backend string
	ctx     context.Context
	slowMo  time.Duration

	mu     sync.Mutex
	closed bool
	cancel func()
}

func (b *chromedpBrowser) Backend() string {
	return b.backend
}

func (b *chromedpBrowser) NewPage(ctx context.Context) (Page, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrBrowserClosed
	}

	tabCtx, tabCancel := chromedp.NewContext(b.ctx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	return &chromedpPage{ctx: tabCtx, cancel: tabCancel, slowMo: b.slowMo}, nil
}

func (b *chromedpBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	err := chromedp.Cancel(b.ctx)
	b.cancel()
	if err == context.Canceled {
		return nil
	}
	return err
}

type chromedpPage struct {
	ctx    context.Context
	cancel context.CancelFunc
	slowMo time.Duration
}

// run executes actions on the tab while honoring the caller's deadline
func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := p.bind(ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	p.pause()
	return err
}

func (p *chromedpPage) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	var runCtx context.Context
	var cancel context.CancelFunc
	if dl, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(p.ctx, dl)
	} else {
		runCtx, cancel = context.WithCancel(p.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *chromedpPage) pause() {
	if p.slowMo > 0 {
		time.Sleep(p.slowMo)
	}
}

func (p *chromedpPage) Goto(ctx context.Context, url string) (int, error) {
	runCtx, cancel := p.bind(ctx)
	defer cancel()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	p.pause()
	if err != nil {
		return 0, err
	}
	if resp == nil {
		return 0, nil
	}
	return int(resp.Status), nil
}

func (p *chromedpPage) WaitVisible(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromedpPage) Count(ctx context.Context, selector string) (int, error) {
	var n int
	err := p.run(ctx, chromedp.Evaluate(fmt.Sprintf("document.querySelectorAll(%s).length", jsString(selector)), &n))
	return n, err
}

func (p *chromedpPage) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := p.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery))
	return text, err
}

func (p *chromedpPage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

// Evaluate returns the JSON value of expression; undefined becomes nil
func (p *chromedpPage) Evaluate(ctx context.Context, expression string) (any, error) {
	var raw []byte
	err := p.run(ctx, chromedp.Evaluate(expression, &raw, func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
		return params.WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("failed to decode evaluation result: %w", err)
	}
	return value, nil
}

func (p *chromedpPage) Close() error {
	p.cancel()
	return nil
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
