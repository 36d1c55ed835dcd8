// Package config reads the harness environment once into an immutable
// Config. Nothing else reads the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

const (
	DefaultBaseURL      = "http://localhost:3000"
	DefaultListen       = ":8080"
	DefaultArtifactsDir = "./artifacts"
	DefaultDBPath       = "./storage/runs.db"
	DefaultProfileDir   = "./storage/browser-profile"
	DefaultCIRetries    = 2

	defaultPauseAfterEach = time.Second
	defaultKeepOpen       = 30 * time.Second
)

// Driver backends selectable with HARNESS_DRIVER
const (
	DriverAuto       = "auto"
	DriverChromedp   = "chromedp"
	DriverPlaywright = "playwright"
	DriverDocker     = "docker"
)

type Config struct {
	Profile models.EnvironmentProfile
	BaseURL string
	Tiers   []models.Tier
	Engines []models.EngineKind
	// Scenarios narrows the catalogue by name; empty runs everything
	Scenarios []string
	Driver    string
	Workers   int
	CI        bool
	Retries   int

	DebugServer    bool
	DebugLogs      bool
	Breakpoints    bool
	PauseAfterEach time.Duration
	KeepOpen       time.Duration

	ScenariosDir string
	ArtifactsDir string
	DBPath       string
	Listen       string

	UnitCmd        string
	IntegrationCmd string

	ChromePath        string
	EdgePath          string
	InstallPlaywright bool
}

// Load reads .env when present, then the process environment
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from any variable source
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	env := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	var errs []error

	opts := models.ProfileOptions{
		Headless: env("HEADLESS") != "false",
		Devtools: env("DEVTOOLS") == "true",
		Args:     strings.Fields(env("HARNESS_BROWSER_ARGS")),
	}
	if v := env("SLOWMO"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			errs = append(errs, fmt.Errorf("SLOWMO must be a non-negative integer, got %q", v))
		} else {
			d := time.Duration(ms) * time.Millisecond
			opts.SlowMo = &d
		}
	}
	if dir, err := profileDir(env("HARNESS_PROFILE_DIR")); err != nil {
		errs = append(errs, err)
	} else {
		opts.ProfileDir = dir
	}
	if v := env("HARNESS_VIEWPORT"); v != "" {
		vp, err := parseViewport(v)
		if err != nil {
			errs = append(errs, err)
		}
		opts.Viewport = vp
	}

	cfg := Config{
		Profile:        models.NewEnvironmentProfile(opts),
		BaseURL:        orDefault(env("BASE_URL"), DefaultBaseURL),
		Driver:         strings.ToLower(orDefault(env("HARNESS_DRIVER"), DriverAuto)),
		CI:             truthy(env("CI")),
		DebugServer:    truthy(env("DEBUG_SERVER")),
		DebugLogs:      truthy(env("DEBUG_LOGS")),
		Breakpoints:    truthy(env("DEBUG_BREAKPOINTS")),
		ScenariosDir:   env("HARNESS_SCENARIOS_DIR"),
		ArtifactsDir:   orDefault(env("HARNESS_ARTIFACTS_DIR"), DefaultArtifactsDir),
		DBPath:         orDefault(env("HARNESS_DB"), DefaultDBPath),
		Listen:         orDefault(env("HARNESS_LISTEN"), DefaultListen),
		UnitCmd:        env("UNIT_CMD"),
		IntegrationCmd: env("INTEGRATION_CMD"),
		ChromePath:     env("CHROME_PATH"),
		EdgePath:       env("EDGE_PATH"),
		Scenarios:      splitList(env("HARNESS_SCENARIOS")),
	}
	cfg.InstallPlaywright = truthy(env("PLAYWRIGHT_INSTALL"))

	switch cfg.Driver {
	case DriverAuto, DriverChromedp, DriverPlaywright, DriverDocker:
	default:
		errs = append(errs, fmt.Errorf("HARNESS_DRIVER must be one of auto, chromedp, playwright, docker, got %q", cfg.Driver))
	}

	var err error
	if cfg.PauseAfterEach, err = toggleDuration(env("PAUSE_AFTER_EACH"), defaultPauseAfterEach); err != nil {
		errs = append(errs, fmt.Errorf("PAUSE_AFTER_EACH: %w", err))
	}
	if cfg.KeepOpen, err = toggleDuration(env("KEEP_OPEN"), defaultKeepOpen); err != nil {
		errs = append(errs, fmt.Errorf("KEEP_OPEN: %w", err))
	}

	for _, name := range splitList(env("HARNESS_TIERS")) {
		switch tier := models.Tier(strings.ToLower(name)); tier {
		case models.TierUnit, models.TierIntegration, models.TierE2E:
			cfg.Tiers = append(cfg.Tiers, tier)
		default:
			errs = append(errs, fmt.Errorf("HARNESS_TIERS: unknown tier %q", name))
		}
	}

	for _, name := range splitList(env("HARNESS_ENGINES")) {
		kind, err := models.ParseEngineKind(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("HARNESS_ENGINES: %w", err))
			continue
		}
		cfg.Engines = append(cfg.Engines, kind)
	}
	if len(cfg.Engines) == 0 {
		cfg.Engines = append([]models.EngineKind(nil), models.AllEngines...)
	}

	cfg.Workers = len(cfg.Engines)
	if v := env("HARNESS_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errs = append(errs, fmt.Errorf("HARNESS_WORKERS must be a positive integer, got %q", v))
		} else {
			cfg.Workers = n
		}
	}

	if cfg.CI {
		cfg.Workers = 1
		cfg.Retries = DefaultCIRetries
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// TierCommands maps the command-driven tiers to their shell commands
func (c Config) TierCommands() map[models.Tier]string {
	return map[models.Tier]string{
		models.TierUnit:        c.UnitCmd,
		models.TierIntegration: c.IntegrationCmd,
	}
}

// ExecPaths returns explicit executables for the local chromium driver
func (c Config) ExecPaths() map[models.EngineKind]string {
	paths := map[models.EngineKind]string{}
	if c.ChromePath != "" {
		paths[models.EngineChromium] = c.ChromePath
	}
	if c.EdgePath != "" {
		paths[models.EngineEdge] = c.EdgePath
	}
	return paths
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// toggleDuration accepts a boolean toggle or a number of milliseconds
func toggleDuration(v string, def time.Duration) (time.Duration, error) {
	if v == "" || !truthy(v) {
		return 0, nil
	}
	if ms, err := strconv.Atoi(v); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("must not be negative")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	switch strings.ToLower(v) {
	case "true", "yes", "on":
		return def, nil
	}
	return 0, fmt.Errorf("expected true or milliseconds, got %q", v)
}

// profileDir resolves the shared browser profile location. "none" turns
// persistence off so every launch starts empty.
func profileDir(v string) (string, error) {
	switch strings.ToLower(v) {
	case "none", "off", "false":
		return "", nil
	case "":
		v = DefaultProfileDir
	}
	dir, err := filepath.Abs(v)
	if err != nil {
		return "", fmt.Errorf("HARNESS_PROFILE_DIR: %w", err)
	}
	return dir, nil
}

func parseViewport(v string) (models.Viewport, error) {
	w, h, ok := strings.Cut(strings.ToLower(v), "x")
	if !ok {
		return models.Viewport{}, fmt.Errorf("HARNESS_VIEWPORT must look like 1280x720, got %q", v)
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return models.Viewport{}, fmt.Errorf("HARNESS_VIEWPORT must look like 1280x720, got %q", v)
	}
	return models.Viewport{Width: width, Height: height}, nil
}
