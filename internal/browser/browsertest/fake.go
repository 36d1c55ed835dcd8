// Package browsertest provides an in-memory Driver for tests that must not
// depend on installed browsers.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shehryarbajwa/smokeharness/internal/browser"
	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

// Element is a fake DOM node set addressed by one selector
type Element struct {
	Count   int
	Visible bool
	Text    string
}

// App is the fake target application shared by every page of a Driver.
// Local storage behaves like a real browser's: a launch without a profile
// directory starts empty, launches with the same directory share it.
type App struct {
	mu       sync.Mutex
	Status   int
	NavErr   error
	Elements map[string]Element
	// Eval answers Evaluate with the page's storage; it may read and write it
	Eval   func(expr string, storage map[string]string) (any, error)
	Visits []string
	Clicks []string

	profiles map[string]map[string]string
}

// NewApp returns an app answering 200 with the given elements
func NewApp(elements map[string]Element) *App {
	if elements == nil {
		elements = map[string]Element{}
	}
	return &App{Status: 200, Elements: elements, profiles: map[string]map[string]string{}}
}

// profile returns the storage persisted in dir; callers hold a.mu
func (a *App) profile(dir string) map[string]string {
	storage, ok := a.profiles[dir]
	if !ok {
		storage = map[string]string{}
		a.profiles[dir] = storage
	}
	return storage
}

// SetItem writes a storage key into the profile at dir, as returned by
// browser.ProfileDirFor
func (a *App) SetItem(dir, key, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.profile(dir)[key] = value
}

// HasItem reports whether the profile at dir holds a storage key
func (a *App) HasItem(dir, key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.profile(dir)[key]
	return ok
}

// Driver is a fake browser.Driver
type Driver struct {
	App       *App
	Kinds     []models.EngineKind
	LaunchErr map[models.EngineKind]error
	ProbeErr  map[models.EngineKind]error
	// PanicOn makes the named page method panic
	PanicOn string

	mu       sync.Mutex
	launched int
	closed   int
	open     map[*Browser]struct{}
	profiles []models.EnvironmentProfile
}

// NewDriver creates a fake driver serving app for all engines
func NewDriver(app *App) *Driver {
	return &Driver{
		App:       app,
		Kinds:     append([]models.EngineKind(nil), models.AllEngines...),
		LaunchErr: map[models.EngineKind]error{},
		ProbeErr:  map[models.EngineKind]error{},
		open:      map[*Browser]struct{}{},
	}
}

func (d *Driver) Name() string {
	return "fake"
}

func (d *Driver) Supports(kind models.EngineKind) bool {
	for _, k := range d.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (d *Driver) Probe(ctx context.Context, kind models.EngineKind) error {
	if !d.Supports(kind) {
		return browser.ErrUnsupportedEngine
	}
	return d.ProbeErr[kind]
}

func (d *Driver) Launch(ctx context.Context, kind models.EngineKind, profile models.EnvironmentProfile) (browser.Browser, error) {
	if err := d.LaunchErr[kind]; err != nil {
		return nil, &browser.LaunchError{Engine: kind, Backend: d.Name(), Err: err}
	}
	if !d.Supports(kind) {
		return nil, &browser.LaunchError{Engine: kind, Backend: d.Name(), Err: browser.ErrUnsupportedEngine}
	}
	storage := map[string]string{}
	if dir := browser.ProfileDirFor(profile, kind); dir != "" {
		d.App.mu.Lock()
		storage = d.App.profile(dir)
		d.App.mu.Unlock()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	b := &Browser{driver: d, kind: kind, storage: storage}
	d.launched++
	d.open[b] = struct{}{}
	d.profiles = append(d.profiles, profile)
	return b, nil
}

func (d *Driver) Close() error {
	return nil
}

// Stats returns launch and close counts and the number still open
func (d *Driver) Stats() (launched, closed, open int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launched, d.closed, len(d.open)
}

// Profiles returns every profile a launch received
func (d *Driver) Profiles() []models.EnvironmentProfile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.EnvironmentProfile(nil), d.profiles...)
}

// Browser is a fake running engine
type Browser struct {
	driver  *Driver
	kind    models.EngineKind
	storage map[string]string
	closed  bool
}

func (b *Browser) Backend() string {
	return "fake"
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	b.driver.mu.Lock()
	defer b.driver.mu.Unlock()
	if b.closed {
		return nil, browser.ErrBrowserClosed
	}
	return &Page{driver: b.driver, storage: b.storage}, nil
}

func (b *Browser) Close() error {
	b.driver.mu.Lock()
	defer b.driver.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.driver.closed++
	delete(b.driver.open, b)
	return nil
}

// Page is a fake tab over the driver's App
type Page struct {
	driver  *Driver
	storage map[string]string
}

func (p *Page) maybePanic(method string) {
	if p.driver.PanicOn == method {
		panic(fmt.Sprintf("fake %s defect", method))
	}
}

func (p *Page) app() *App {
	return p.driver.App
}

func (p *Page) Goto(ctx context.Context, url string) (int, error) {
	p.maybePanic("Goto")
	a := p.app()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Visits = append(a.Visits, url)
	if a.NavErr != nil {
		return 0, a.NavErr
	}
	return a.Status, nil
}

func (p *Page) element(selector string) (Element, bool) {
	a := p.app()
	a.mu.Lock()
	defer a.mu.Unlock()
	el, ok := a.Elements[selector]
	return el, ok
}

func (p *Page) WaitVisible(ctx context.Context, selector string) error {
	p.maybePanic("WaitVisible")
	if el, ok := p.element(selector); ok && el.Visible && el.Count > 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", browser.ErrWaitTimeout, selector)
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	p.maybePanic("Count")
	el, _ := p.element(selector)
	return el.Count, nil
}

func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	p.maybePanic("Text")
	el, ok := p.element(selector)
	if !ok || el.Count == 0 {
		return "", fmt.Errorf("%w: %s", browser.ErrWaitTimeout, selector)
	}
	return el.Text, nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.maybePanic("Click")
	if el, ok := p.element(selector); !ok || !el.Visible {
		return fmt.Errorf("%w: %s", browser.ErrWaitTimeout, selector)
	}
	a := p.app()
	a.mu.Lock()
	a.Clicks = append(a.Clicks, selector)
	a.mu.Unlock()
	return nil
}

func (p *Page) Evaluate(ctx context.Context, expression string) (any, error) {
	p.maybePanic("Evaluate")
	a := p.app()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Eval != nil {
		return a.Eval(expression, p.storage)
	}
	if strings.HasPrefix(expression, "typeof ") {
		return "undefined", nil
	}
	return nil, nil
}

func (p *Page) Close() error {
	return nil
}
