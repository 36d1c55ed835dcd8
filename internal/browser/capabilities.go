package browser

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

// Chromium flags that keep CI and container launches from crashing.
// They never change what a scenario observes.
var chromiumStabilityArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-gpu",
	"--disable-ipc-flooding-protection",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-renderer-backgrounding",
	"--disable-extensions",
	"--disable-default-apps",
	"--no-first-run",
	"--no-default-browser-check",
}

const devtoolsArg = "--auto-open-devtools-for-tabs"

// Capability is the declared launch contract of one engine kind
type Capability struct {
	Kind              models.EngineKind
	Channel           string
	Executables       []string
	StabilityArgs     []string
	SupportsDevtools  bool
	LaunchTimeout     time.Duration
	NavigationTimeout time.Duration
	SelectorTimeout   time.Duration
}

var capabilities = map[models.EngineKind]Capability{
	models.EngineChromium: {
		Kind: models.EngineChromium,
		Executables: []string{
			"chromium", "chromium-browser", "google-chrome", "google-chrome-stable", "headless-shell",
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		},
		StabilityArgs:     chromiumStabilityArgs,
		SupportsDevtools:  true,
		LaunchTimeout:     30 * time.Second,
		NavigationTimeout: 30 * time.Second,
		SelectorTimeout:   10 * time.Second,
	},
	models.EngineEdge: {
		Kind:    models.EngineEdge,
		Channel: "msedge",
		Executables: []string{
			"microsoft-edge", "microsoft-edge-stable", "msedge",
			"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
			`C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`,
			`C:\Program Files\Microsoft\Edge\Application\msedge.exe`,
		},
		StabilityArgs:     chromiumStabilityArgs,
		SupportsDevtools:  true,
		LaunchTimeout:     30 * time.Second,
		NavigationTimeout: 30 * time.Second,
		SelectorTimeout:   10 * time.Second,
	},
	models.EngineWebKit: {
		Kind:              models.EngineWebKit,
		LaunchTimeout:     30 * time.Second,
		NavigationTimeout: 30 * time.Second,
		SelectorTimeout:   10 * time.Second,
	},
}

// CapabilityFor returns the capability table entry for kind
func CapabilityFor(kind models.EngineKind) (Capability, bool) {
	c, ok := capabilities[kind]
	return c, ok
}

// LaunchArgs returns stability flags followed by the profile's own args.
// Devtools is added only for visible runs on engines that support it.
func (c Capability) LaunchArgs(profile models.EnvironmentProfile) []string {
	args := make([]string, 0, len(c.StabilityArgs)+len(profile.EngineArgs)+1)
	args = append(args, c.StabilityArgs...)
	args = append(args, profile.EngineArgs...)
	if !profile.Headless && profile.Devtools && c.SupportsDevtools {
		args = append(args, devtoolsArg)
	}
	return args
}

// LaunchTimeoutFor picks the capability timeout unless the profile sets one
func (c Capability) LaunchTimeoutFor(profile models.EnvironmentProfile) time.Duration {
	if profile.Timeouts.Launch > 0 {
		return profile.Timeouts.Launch
	}
	return c.LaunchTimeout
}

// ResolveExecutable finds the first installed executable for the engine.
// An explicit override wins when it exists.
func (c Capability) ResolveExecutable(override string) (string, bool) {
	candidates := c.Executables
	if override != "" {
		candidates = append([]string{override}, candidates...)
	}
	for _, candidate := range candidates {
		if filepath.IsAbs(candidate) || strings.ContainsRune(candidate, os.PathSeparator) {
			if !sameOS(candidate) {
				continue
			}
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, true
			}
			continue
		}
		if path, err := exec.LookPath(candidate); err == nil {
			return path, true
		}
	}
	return "", false
}

// sameOS skips candidates written for another platform
func sameOS(path string) bool {
	switch {
	case strings.HasPrefix(path, "/Applications/"):
		return runtime.GOOS == "darwin"
	case strings.Contains(path, `:\`):
		return runtime.GOOS == "windows"
	}
	return true
}

// splitFlag turns "--name=value" into ("name", "value") and "--name" into ("name", true)
func splitFlag(arg string) (string, interface{}) {
	arg = strings.TrimLeft(arg, "-")
	if name, value, ok := strings.Cut(arg, "="); ok {
		return name, value
	}
	return arg, true
}
