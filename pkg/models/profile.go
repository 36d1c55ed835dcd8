package models

import "time"

// Viewport is the browser window size used for every page of a run
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// TimeoutTier groups the timeouts that change between visible and headless runs
type TimeoutTier struct {
	Test       time.Duration `json:"test"`
	Assertion  time.Duration `json:"assertion"`
	Navigation time.Duration `json:"navigation"`
	Launch     time.Duration `json:"launch"`
}

// Timeout tiers for the two run modes
var (
	HeadlessTimeouts = TimeoutTier{
		Test:       30 * time.Second,
		Assertion:  5 * time.Second,
		Navigation: 30 * time.Second,
		Launch:     30 * time.Second,
	}
	VisibleTimeouts = TimeoutTier{
		Test:       60 * time.Second,
		Assertion:  10 * time.Second,
		Navigation: 30 * time.Second,
		Launch:     30 * time.Second,
	}
)

// DefaultVisibleSlowMo is applied in visible mode when no explicit delay was requested
const DefaultVisibleSlowMo = 100 * time.Millisecond

// EnvironmentProfile describes how browsers are launched for one run.
// It is built once at startup and passed by value afterwards.
type EnvironmentProfile struct {
	Headless   bool          `json:"headless"`
	SlowMo     time.Duration `json:"slowMo"`
	Devtools   bool          `json:"devtools"`
	Viewport   Viewport      `json:"viewport"`
	EngineArgs []string      `json:"engineArgs,omitempty"`
	Timeouts   TimeoutTier   `json:"timeouts"`
	// ProfileDir holds one persistent browser profile per engine. Empty
	// means every launch starts from a throwaway profile.
	ProfileDir string        `json:"profileDir,omitempty"`
}

// ProfileOptions are the raw inputs a profile is derived from
type ProfileOptions struct {
	Headless   bool
	// SlowMo is nil when the caller did not ask for a delay
	SlowMo     *time.Duration
	Devtools   bool
	Viewport   Viewport
	Args       []string
	// ProfileDir is shared by scenario sessions and the reset utility
	ProfileDir string
}

// NewEnvironmentProfile derives a profile from raw options.
// Headless runs never slow down unless asked to; visible runs get the
// default delay when none was requested. Devtools only opens in visible mode.
func NewEnvironmentProfile(opts ProfileOptions) EnvironmentProfile {
	p := EnvironmentProfile{
		Headless:   opts.Headless,
		Viewport:   opts.Viewport,
		Timeouts:   HeadlessTimeouts,
		ProfileDir: opts.ProfileDir,
	}

	if p.Viewport.Width == 0 || p.Viewport.Height == 0 {
		p.Viewport = Viewport{Width: 1280, Height: 720}
	}

	if !opts.Headless {
		p.Timeouts = VisibleTimeouts
		p.Devtools = opts.Devtools
		p.SlowMo = DefaultVisibleSlowMo
	}

	if opts.SlowMo != nil && *opts.SlowMo >= 0 {
		p.SlowMo = *opts.SlowMo
	}

	if len(opts.Args) > 0 {
		p.EngineArgs = append([]string(nil), opts.Args...)
	}

	return p
}
