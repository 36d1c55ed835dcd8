// Package app wires configuration, drivers and storage into the services
// the command line tools and the HTTP server share.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/smokeharness/internal/api"
	"github.com/shehryarbajwa/smokeharness/internal/browser"
	"github.com/shehryarbajwa/smokeharness/internal/config"
	"github.com/shehryarbajwa/smokeharness/internal/events"
	"github.com/shehryarbajwa/smokeharness/internal/maintenance"
	"github.com/shehryarbajwa/smokeharness/internal/orchestrator"
	"github.com/shehryarbajwa/smokeharness/internal/report"
	"github.com/shehryarbajwa/smokeharness/internal/scenario"
	"github.com/shehryarbajwa/smokeharness/internal/session"
	"github.com/shehryarbajwa/smokeharness/internal/store"
	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

const (
	dockerPing = 2 * time.Second
	imagePull  = 5 * time.Minute
)

// Options override collaborators that New would otherwise build from config
type Options struct {
	Driver  browser.Driver
	Killer  maintenance.ProcessKiller
	Sweeper maintenance.ContainerSweeper
	Tiers   orchestrator.TierRunner
	// TierOutput receives unit and integration command output
	TierOutput io.Writer
	Catalogue  []scenario.Scenario
	Logger     *zap.Logger
}

// App is the assembled harness
type App struct {
	cfg       config.Config
	driver    browser.Driver
	sessions  *session.Manager
	hub       *events.Hub
	orch      *orchestrator.Orchestrator
	resetter  *maintenance.Resetter
	sanitizer *maintenance.Sanitizer
	store     *store.Store
	reports   *report.Writer
	catalogue []scenario.Scenario
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	runs   map[string]models.RunStatus
}

// Build creates the drivers selected by cfg.Driver and assembles the app
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	driver, docker, err := buildDrivers(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := Options{Driver: driver, Logger: logger, TierOutput: os.Stdout}
	if docker != nil {
		opts.Sweeper = docker
	}
	a, err := New(cfg, opts)
	if err != nil {
		driver.Close()
		return nil, err
	}
	return a, nil
}

// buildDrivers returns the registry and, when one was created, the docker
// driver so the sanitizer can sweep its containers
func buildDrivers(ctx context.Context, cfg config.Config, logger *zap.Logger) (browser.Driver, *browser.DockerDriver, error) {
	var drivers []browser.Driver
	var docker *browser.DockerDriver

	useDocker := func(required bool) error {
		d, err := browser.NewDockerDriver(logger)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, dockerPing)
			err = d.Probe(pingCtx, models.EngineChromium)
			cancel()
		}
		if err == nil && required {
			pullCtx, cancel := context.WithTimeout(ctx, imagePull)
			err = d.EnsureImage(pullCtx)
			cancel()
		}
		if err != nil {
			if d != nil {
				d.Close()
			}
			if required {
				return fmt.Errorf("docker driver: %w", err)
			}
			logger.Debug("docker driver unavailable", zap.Error(err))
			return nil
		}
		docker = d
		drivers = append(drivers, d)
		return nil
	}

	switch cfg.Driver {
	case config.DriverChromedp:
		drivers = append(drivers, browser.NewChromedpDriver(logger, cfg.ExecPaths()))
	case config.DriverPlaywright:
		drivers = append(drivers, browser.NewPlaywrightDriver(logger, cfg.InstallPlaywright))
	case config.DriverDocker:
		if err := useDocker(true); err != nil {
			return nil, nil, err
		}
	default:
		drivers = append(drivers,
			browser.NewChromedpDriver(logger, cfg.ExecPaths()),
			browser.NewPlaywrightDriver(logger, cfg.InstallPlaywright),
		)
		_ = useDocker(false)
	}

	names := make([]string, 0, len(drivers))
	for _, d := range drivers {
		names = append(names, d.Name())
	}
	logger.Info("browser drivers ready", zap.String("mode", cfg.Driver), zap.Strings("order", names))
	return browser.NewRegistry(logger, drivers...), docker, nil
}

// New assembles the app around an existing driver
func New(cfg config.Config, opts Options) (*App, error) {
	if opts.Driver == nil {
		return nil, errors.New("a browser driver is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	catalogue := opts.Catalogue
	if catalogue == nil {
		var err error
		if catalogue, err = loadCatalogue(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	reports, err := report.NewWriter(cfg.ArtifactsDir)
	if err != nil {
		st.Close()
		return nil, err
	}

	hub := events.NewHub(logger)
	sessions := session.NewManager(opts.Driver, session.Options{
		Workers: cfg.Workers,
		Emitter: hub,
		Logger:  logger,
	})

	tiers := opts.Tiers
	if tiers == nil {
		tiers = &orchestrator.CommandTierRunner{
			Commands: cfg.TierCommands(),
			Output:   opts.TierOutput,
			Logger:   logger,
		}
	}
	orch := orchestrator.New(orchestrator.Config{
		Profile:        cfg.Profile,
		BaseURL:        cfg.BaseURL,
		Engines:        cfg.Engines,
		CI:             cfg.CI,
		Retries:        cfg.Retries,
		KeepOpen:       cfg.KeepOpen,
		PauseAfterEach: cfg.PauseAfterEach,
		Breakpoints:    cfg.Breakpoints,
		DebugServer:    cfg.DebugServer,
	}, opts.Driver, sessions, orchestrator.Options{
		Tiers:   tiers,
		Emitter: hub,
		Logger:  logger,
	})

	killer := opts.Killer
	if killer == nil {
		killer = maintenance.NewSystemKiller(maintenance.ExecRunner)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		cfg:      cfg,
		driver:   opts.Driver,
		sessions: sessions,
		hub:      hub,
		orch:     orch,
		resetter: maintenance.NewResetter(sessions, cfg.BaseURL, "", cfg.Profile.ProfileDir, logger),
		sanitizer: maintenance.NewSanitizer(killer, maintenance.SanitizerOptions{
			Sweeper: opts.Sweeper,
			Settle:  maintenance.DefaultSettle,
			Logger:  logger,
		}),
		store:     st,
		reports:   reports,
		catalogue: catalogue,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		runs:      make(map[string]models.RunStatus),
	}, nil
}

func loadCatalogue(cfg config.Config) ([]scenario.Scenario, error) {
	if cfg.ScenariosDir == "" {
		return scenario.Builtin(), nil
	}
	scenarios, err := scenario.LoadDir(cfg.ScenariosDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenarios: %w", err)
	}
	return scenarios, nil
}

func (a *App) Config() config.Config { return a.cfg }
func (a *App) Sessions() *session.Manager { return a.sessions }
func (a *App) Events() *events.Hub { return a.hub }
func (a *App) Resetter() *maintenance.Resetter { return a.resetter }
func (a *App) Sanitizer() *maintenance.Sanitizer { return a.sanitizer }
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Catalogue returns the scenarios runs select from
func (a *App) Catalogue() []scenario.Scenario {
	return a.catalogue
}

// request turns an API request into an orchestrator request, falling back
// to the configured tiers and scenarios
func (a *App) request(id string, req models.RunRequest) (orchestrator.Request, error) {
	for _, t := range req.Tiers {
		switch t {
		case models.TierUnit, models.TierIntegration, models.TierE2E:
		default:
			return orchestrator.Request{}, fmt.Errorf("%w: unknown tier %q", api.ErrInvalidRequest, t)
		}
	}
	for _, e := range req.Engines {
		if _, err := models.ParseEngineKind(string(e)); err != nil {
			return orchestrator.Request{}, fmt.Errorf("%w: %v", api.ErrInvalidRequest, err)
		}
	}

	tiers := req.Tiers
	if len(tiers) == 0 {
		tiers = a.cfg.Tiers
	}
	names := req.Scenarios
	if len(names) == 0 {
		names = a.cfg.Scenarios
	}
	scenarios, err := scenario.Select(a.catalogue, names)
	if err != nil {
		return orchestrator.Request{}, fmt.Errorf("%w: %v", api.ErrInvalidRequest, err)
	}

	return orchestrator.Request{
		ID:        id,
		Tiers:     tiers,
		Engines:   req.Engines,
		Scenarios: scenarios,
	}, nil
}

// RunAndRecord executes a run, writes its report files and stores it in
// the run history. The report is returned even when recording fails.
func (a *App) RunAndRecord(ctx context.Context, req models.RunRequest) (*models.RunReport, report.Paths, error) {
	orchReq, err := a.request("", req)
	if err != nil {
		return nil, report.Paths{}, err
	}
	return a.run(ctx, orchReq)
}

func (a *App) run(ctx context.Context, req orchestrator.Request) (*models.RunReport, report.Paths, error) {
	rep, err := a.orch.Run(ctx, req)
	if err != nil {
		return nil, report.Paths{}, err
	}

	write := a.reports.Write
	if a.cfg.CI {
		write = a.reports.WriteBundle
	}
	paths, werr := write(rep)
	if werr != nil {
		werr = fmt.Errorf("failed to write report: %w", werr)
	}
	// history must not depend on a cancelled run context
	serr := a.store.SaveRun(context.WithoutCancel(ctx), rep)
	if serr != nil {
		serr = fmt.Errorf("failed to save run: %w", serr)
	}

	a.logger.Info("run recorded", zap.String("run", rep.ID), zap.String("dir", paths.Dir))
	return rep, paths, errors.Join(werr, serr)
}

// Start launches a run in the background and returns its initial status
func (a *App) Start(req models.RunRequest) (models.RunStatus, error) {
	id := uuid.New().String()
	orchReq, err := a.request(id, req)
	if err != nil {
		return models.RunStatus{}, err
	}
	if err := a.ctx.Err(); err != nil {
		return models.RunStatus{}, fmt.Errorf("harness is shutting down: %w", err)
	}

	status := models.RunStatus{ID: id, State: models.RunRunning, StartedAt: time.Now()}
	a.setStatus(status)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		rep, _, err := a.run(a.ctx, orchReq)
		switch {
		case rep == nil:
			status.State = models.RunErrored
			status.Error = err.Error()
		default:
			status.State = models.RunFinished
			status.Passed = rep.Passed
			if err != nil {
				status.Error = err.Error()
			}
		}
		if err != nil {
			a.logger.Error("background run", zap.String("run", id), zap.Error(err))
		}
		a.setStatus(status)
	}()

	return status, nil
}

func (a *App) setStatus(status models.RunStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs[status.ID] = status
}

// Status reports a run started by this process
func (a *App) Status(id string) (models.RunStatus, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	status, ok := a.runs[id]
	return status, ok
}

// Get loads a recorded run
func (a *App) Get(ctx context.Context, id string) (*models.RunReport, error) {
	return a.store.GetRun(ctx, id)
}

// List returns the most recent recorded runs
func (a *App) List(ctx context.Context, limit int) ([]store.Summary, error) {
	return a.store.ListRuns(ctx, limit)
}

// Wait blocks until every background run has finished
func (a *App) Wait() {
	a.wg.Wait()
}

// Close cancels background runs, closes every session and releases drivers
// and storage
func (a *App) Close() error {
	a.cancel()
	a.wg.Wait()
	a.sessions.CloseAll()
	return errors.Join(a.driver.Close(), a.store.Close())
}
