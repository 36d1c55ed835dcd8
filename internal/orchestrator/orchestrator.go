// Package orchestrator decides which tiers run and dispatches scenarios to
// one browser session per engine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shehryarbajwa/smokeharness/internal/browser"
	"github.com/shehryarbajwa/smokeharness/internal/events"
	"github.com/shehryarbajwa/smokeharness/internal/metrics"
	"github.com/shehryarbajwa/smokeharness/internal/scenario"
	"github.com/shehryarbajwa/smokeharness/internal/session"
	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

var (
	ErrServerUnreachable = errors.New("application server unreachable")
	ErrExclusiveScenario = errors.New("exclusive scenario marker is not allowed in CI")
)

const (
	DefaultProbeTimeout = 3 * time.Second
	DefaultCIRetries    = 2
	// engineProbeTimeout bounds each capability probe
	engineProbeTimeout = 15 * time.Second
	retryDelay         = 250 * time.Millisecond
)

// AllTiers is the order tiers are executed in
var AllTiers = []models.Tier{models.TierUnit, models.TierIntegration, models.TierE2E}

// Config is the part of the harness configuration a run needs
type Config struct {
	Profile models.EnvironmentProfile
	BaseURL string
	Engines []models.EngineKind
	CI      bool
	// Retries applies to failing scenarios in CI only
	Retries        int
	ProbeTimeout   time.Duration
	KeepOpen       time.Duration
	PauseAfterEach time.Duration
	Breakpoints    bool
	DebugServer    bool
}

// Request selects what one run executes. Empty fields fall back to Config.
type Request struct {
	// ID is generated when empty
	ID        string
	Tiers     []models.Tier
	Engines   []models.EngineKind
	Scenarios []scenario.Scenario
}

type Orchestrator struct {
	cfg      Config
	driver   browser.Driver
	sessions *session.Manager
	tiers    TierRunner
	client   *http.Client
	emitter  events.Emitter
	logger   *zap.Logger
}

// Options carry the optional collaborators of an Orchestrator
type Options struct {
	Tiers   TierRunner
	Client  *http.Client
	Emitter events.Emitter
	Logger  *zap.Logger
}

// New returns an Orchestrator; zero Config fields take their defaults
func New(cfg Config, driver browser.Driver, sessions *session.Manager, opts Options) *Orchestrator {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if len(cfg.Engines) == 0 {
		cfg.Engines = models.AllEngines
	}
	o := &Orchestrator{
		cfg:      cfg,
		driver:   driver,
		sessions: sessions,
		tiers:    opts.Tiers,
		client:   opts.Client,
		emitter:  opts.Emitter,
		logger:   opts.Logger,
	}
	if o.tiers == nil {
		o.tiers = &CommandTierRunner{}
	}
	if o.client == nil {
		o.client = &http.Client{}
	}
	if o.emitter == nil {
		o.emitter = events.Nop{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// ProbeCapability reports Full when at least one engine can be driven
func (o *Orchestrator) ProbeCapability(ctx context.Context, engines []models.EngineKind) models.Capability {
	for _, kind := range engines {
		probeCtx, cancel := context.WithTimeout(ctx, engineProbeTimeout)
		err := o.driver.Probe(probeCtx, kind)
		cancel()
		if err == nil {
			o.logger.Debug("engine available", zap.String("engine", string(kind)))
			return models.CapabilityFull
		}
		o.logger.Debug("engine unavailable", zap.String("engine", string(kind)), zap.Error(err))
	}
	return models.CapabilityReducedNoE2E
}

// CheckServer issues a single GET against the base URL. Any HTTP response
// counts as reachable.
func (o *Orchestrator) CheckServer(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.BaseURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrServerUnreachable, o.cfg.BaseURL, err)
	}

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s did not respond within %v: %v", ErrServerUnreachable, o.cfg.BaseURL, o.cfg.ProbeTimeout, err)
	}
	resp.Body.Close()

	if o.cfg.DebugServer {
		o.logger.Info("server probe",
			zap.String("url", o.cfg.BaseURL),
			zap.Int("status", resp.StatusCode),
			zap.Duration("latency", time.Since(start)))
	}
	return nil
}

// Run executes the requested tiers in order and aggregates one report.
// Only configuration problems are returned as errors; test failures are
// recorded in the report.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*models.RunReport, error) {
	scenarios := req.Scenarios
	if scenario.HasExclusive(scenarios) {
		if o.cfg.CI {
			return nil, ErrExclusiveScenario
		}
		scenarios = scenario.ApplyOnly(scenarios)
		o.logger.Warn("exclusive scenarios present, running only those", zap.Int("count", len(scenarios)))
	}

	engines := req.Engines
	if len(engines) == 0 {
		engines = o.cfg.Engines
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	report := &models.RunReport{
		ID:        req.ID,
		StartedAt: time.Now(),
		Profile:   o.cfg.Profile,
		Tiers:     []models.TierResult{},
		Results:   []models.ScenarioResult{},
	}
	log := o.logger.With(zap.String("run", report.ID[:8]))
	o.emitter.Emit(events.Event{Type: events.TypeRunStarted, RunID: report.ID, Time: report.StartedAt})

	report.Capability = o.ProbeCapability(ctx, engines)
	log.Info("capability probe", zap.String("capability", string(report.Capability)))

	for _, tier := range orderTiers(req.Tiers) {
		if tier != models.TierE2E {
			result := o.tiers.RunTier(ctx, tier)
			report.Tiers = append(report.Tiers, result)
			continue
		}
		tierResult, results := o.runE2E(ctx, log, report, engines, scenarios)
		report.Tiers = append(report.Tiers, tierResult)
		report.Results = append(report.Results, results...)
	}

	report.FinishedAt = time.Now()
	report.Passed = passed(report)

	p, f, n := report.Counts()
	log.Info("run finished",
		zap.Bool("passed", report.Passed),
		zap.Int("scenarios_passed", p),
		zap.Int("scenarios_failed", f),
		zap.Int("scenarios_not_run", n))
	o.emitter.Emit(events.Event{Type: events.TypeRunFinished, RunID: report.ID, Passed: report.Passed, Time: report.FinishedAt})

	return report, nil
}

func (o *Orchestrator) runE2E(ctx context.Context, log *zap.Logger, report *models.RunReport, engines []models.EngineKind, scenarios []scenario.Scenario) (models.TierResult, []models.ScenarioResult) {
	start := time.Now()
	result := models.TierResult{Tier: models.TierE2E}
	seal := func() models.TierResult {
		result.Duration = time.Since(start)
		result.DurationMs = result.Duration.Milliseconds()
		return result
	}

	if report.Capability == models.CapabilityReducedNoE2E {
		result.Status = models.TierSkipped
		result.Detail = "no browser engine could be resolved; running unit and integration tiers only"
		log.Warn("skipping e2e tier", zap.String("reason", result.Detail))
		return seal(), nil
	}
	if len(scenarios) == 0 {
		result.Status = models.TierSkipped
		result.Detail = "no scenarios selected"
		return seal(), nil
	}

	if err := o.CheckServer(ctx); err != nil {
		result.Status = models.TierAborted
		result.Detail = err.Error()
		log.Error("aborting e2e tier", zap.Error(err))
		return seal(), notRun(engines, scenarios, err)
	}

	runner, err := scenario.NewRunner(scenario.Options{
		RunID:          report.ID,
		BaseURL:        o.cfg.BaseURL,
		Profile:        o.cfg.Profile,
		PauseAfterEach: o.cfg.PauseAfterEach,
		Breakpoints:    o.cfg.Breakpoints,
		Emitter:        o.emitter,
		Logger:         o.logger,
	})
	if err != nil {
		result.Status = models.TierAborted
		result.Detail = err.Error()
		return seal(), notRun(engines, scenarios, err)
	}

	// engines run concurrently; the session manager caps open browsers
	perEngine := make([][]models.ScenarioResult, len(engines))
	var g errgroup.Group
	for i, kind := range engines {
		i, kind := i, kind
		g.Go(func() error {
			perEngine[i] = o.runEngine(ctx, runner, report.ID, kind, scenarios)
			return nil
		})
	}
	_ = g.Wait()

	var results []models.ScenarioResult
	result.Status = models.TierPassed
	for _, rs := range perEngine {
		for _, r := range rs {
			if r.Status != models.ResultPassed {
				result.Status = models.TierFailed
			}
			results = append(results, r)
		}
	}
	return seal(), results
}

// runEngine runs every scenario targeting kind on one scoped session.
// A launch failure leaves all of them not_run.
func (o *Orchestrator) runEngine(ctx context.Context, runner *scenario.Runner, runID string, kind models.EngineKind, scenarios []scenario.Scenario) []models.ScenarioResult {
	var targeted []scenario.Scenario
	for _, sc := range scenarios {
		if sc.RunsOn(kind) {
			targeted = append(targeted, sc)
		}
	}
	if len(targeted) == 0 {
		return nil
	}

	results := make([]models.ScenarioResult, len(targeted))
	done := 0
	err := o.sessions.WithSession(ctx, runID, kind, o.cfg.Profile, func(s *session.Session) error {
		for _, sc := range targeted {
			results[done] = o.runScenario(ctx, runner, s, kind, sc)
			done++
		}
		if o.cfg.KeepOpen > 0 && !o.cfg.Profile.Headless {
			o.logger.Info("keeping browser open", zap.String("engine", string(kind)), zap.Duration("for", o.cfg.KeepOpen))
			t := time.NewTimer(o.cfg.KeepOpen)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		}
		return nil
	})
	if err != nil {
		o.logger.Error("engine session failed", zap.String("engine", string(kind)), zap.Error(err))
		for i := done; i < len(targeted); i++ {
			results[i] = notRunResult(kind, targeted[i].Name, err)
		}
	}
	return results
}

// runScenario runs one scenario, retrying failures in CI
func (o *Orchestrator) runScenario(ctx context.Context, runner *scenario.Runner, s *session.Session, kind models.EngineKind, sc scenario.Scenario) models.ScenarioResult {
	retries := 0
	if o.cfg.CI {
		retries = o.cfg.Retries
	}

	var res models.ScenarioResult
	attempts := 0
	backoff := retry.WithMaxRetries(uint64(retries), retry.NewConstant(retryDelay))
	_ = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		res = runner.Run(ctx, s.Browser(), kind, sc)
		if !res.Passed {
			return retry.RetryableError(errors.New(res.Error))
		}
		return nil
	})
	if attempts == 0 {
		// the context ended before the first attempt
		err := ctx.Err()
		if err == nil {
			err = errors.New("scenario was not started")
		}
		return notRunResult(kind, sc.Name, err)
	}
	res.Attempts = attempts
	if attempts > 1 {
		o.logger.Info("scenario retried",
			zap.String("scenario", sc.Name),
			zap.String("engine", string(kind)),
			zap.Int("attempts", attempts),
			zap.Bool("passed", res.Passed))
	}
	metrics.ScenarioFinished(res)
	return res
}

func notRunResult(kind models.EngineKind, name string, err error) models.ScenarioResult {
	res := models.ScenarioResult{
		Name:       name,
		Engine:     kind,
		Status:     models.ResultNotRun,
		Assertions: []models.AssertionRecord{},
		Error:      err.Error(),
	}
	metrics.ScenarioFinished(res)
	return res
}

func notRun(engines []models.EngineKind, scenarios []scenario.Scenario, err error) []models.ScenarioResult {
	var out []models.ScenarioResult
	for _, kind := range engines {
		for _, sc := range scenarios {
			if sc.RunsOn(kind) {
				out = append(out, notRunResult(kind, sc.Name, err))
			}
		}
	}
	return out
}

// orderTiers dedupes tiers into execution order; none means all
func orderTiers(requested []models.Tier) []models.Tier {
	if len(requested) == 0 {
		return AllTiers
	}
	want := make(map[models.Tier]bool, len(requested))
	for _, t := range requested {
		want[t] = true
	}
	var out []models.Tier
	for _, t := range AllTiers {
		if want[t] {
			out = append(out, t)
		}
	}
	return out
}

// passed requires every tier to pass or be skipped and every scenario to pass
func passed(report *models.RunReport) bool {
	for _, t := range report.Tiers {
		if t.Status == models.TierFailed || t.Status == models.TierAborted {
			return false
		}
	}
	for _, r := range report.Results {
		if r.Status != models.ResultPassed {
			return false
		}
	}
	return true
}
