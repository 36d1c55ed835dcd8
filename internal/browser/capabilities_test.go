package browser

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

func TestCapabilityTable(t *testing.T) {
	for _, kind := range models.AllEngines {
		c, ok := CapabilityFor(kind)
		require.True(t, ok, kind)
		assert.Equal(t, kind, c.Kind)
		assert.Equal(t, 30*time.Second, c.LaunchTimeout)
	}

	edge, _ := CapabilityFor(models.EngineEdge)
	assert.Equal(t, "msedge", edge.Channel)

	webkit, _ := CapabilityFor(models.EngineWebKit)
	assert.Empty(t, webkit.StabilityArgs)

	_, ok := CapabilityFor("firefox")
	assert.False(t, ok)
}

func TestLaunchArgsIgnoreMode(t *testing.T) {
	c, _ := CapabilityFor(models.EngineChromium)

	headless := c.LaunchArgs(models.NewEnvironmentProfile(models.ProfileOptions{Headless: true, Devtools: true}))
	visible := c.LaunchArgs(models.NewEnvironmentProfile(models.ProfileOptions{Headless: false, Devtools: true}))

	assert.Contains(t, headless, "--no-sandbox")
	assert.Contains(t, headless, "--disable-ipc-flooding-protection")
	assert.NotContains(t, headless, devtoolsArg)
	assert.Equal(t, append(append([]string{}, headless...), devtoolsArg), visible,
		"visible mode only adds the devtools flag")
}

func TestLaunchArgsAppendProfileArgs(t *testing.T) {
	c, _ := CapabilityFor(models.EngineEdge)
	args := c.LaunchArgs(models.NewEnvironmentProfile(models.ProfileOptions{Headless: true, Args: []string{"--lang=de"}}))
	assert.Equal(t, "--lang=de", args[len(args)-1])

	webkit, _ := CapabilityFor(models.EngineWebKit)
	assert.Empty(t, webkit.LaunchArgs(models.NewEnvironmentProfile(models.ProfileOptions{Headless: false, Devtools: true})))
}

func TestLaunchTimeoutFor(t *testing.T) {
	c, _ := CapabilityFor(models.EngineChromium)
	p := models.NewEnvironmentProfile(models.ProfileOptions{Headless: true})
	p.Timeouts.Launch = 0
	assert.Equal(t, 30*time.Second, c.LaunchTimeoutFor(p))
	p.Timeouts.Launch = 5 * time.Second
	assert.Equal(t, 5*time.Second, c.LaunchTimeoutFor(p))
}

func TestResolveExecutableOverride(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "my-chrome")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0755))

	c := Capability{Executables: []string{"definitely-not-a-browser-binary"}}
	path, ok := c.ResolveExecutable(bin)
	assert.True(t, ok)
	assert.Equal(t, bin, path)

	_, ok = c.ResolveExecutable("")
	assert.False(t, ok)
}

func TestSplitFlag(t *testing.T) {
	name, value := splitFlag("--no-sandbox")
	assert.Equal(t, "no-sandbox", name)
	assert.Equal(t, true, value)

	name, value = splitFlag("--lang=en-US")
	assert.Equal(t, "lang", name)
	assert.Equal(t, "en-US", value)
}
