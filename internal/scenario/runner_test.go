package scenario

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shehryarbajwa/smokeharness/internal/browser"
	"github.com/shehryarbajwa/smokeharness/internal/browser/browsertest"
	"github.com/shehryarbajwa/smokeharness/internal/events"
	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

const testBaseURL = "http://localhost:3000"

func fastProfile(headless bool) models.EnvironmentProfile {
	p := models.NewEnvironmentProfile(models.ProfileOptions{Headless: headless})
	p.Timeouts.Assertion = 200 * time.Millisecond
	p.Timeouts.Navigation = time.Second
	p.SlowMo = 0
	return p
}

func newRunner(t *testing.T, profile models.EnvironmentProfile, emitter events.Emitter) *Runner {
	t.Helper()
	r, err := NewRunner(Options{
		RunID:   "run-1",
		BaseURL: testBaseURL,
		Profile: profile,
		Emitter: emitter,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return r
}

func launch(t *testing.T, d *browsertest.Driver, profile models.EnvironmentProfile) browser.Browser {
	t.Helper()
	b, err := d.Launch(context.Background(), models.EngineChromium, profile)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func structureApp() *browsertest.App {
	return browsertest.NewApp(map[string]browsertest.Element{
		"h1":     {Count: 1, Visible: true, Text: "APAC Revenue Projections"},
		"button": {Count: 3, Visible: true},
	})
}

func basicStructure() Scenario {
	return Scenario{
		Name: "basic-structure",
		Steps: []Step{
			Navigate("/"),
			WaitForSelector("h1", 10*time.Second),
			AssertCount("button", AtLeast(1)),
		},
	}
}

func TestRunBasicStructurePasses(t *testing.T) {
	app := structureApp()
	d := browsertest.NewDriver(app)
	profile := fastProfile(true)
	r := newRunner(t, profile, nil)

	res := r.Run(context.Background(), launch(t, d, profile), models.EngineChromium, basicStructure())

	assert.True(t, res.Passed)
	assert.Equal(t, models.ResultPassed, res.Status)
	assert.Empty(t, res.Error)
	require.Len(t, res.Assertions, 2)
	assert.Equal(t, "selector h1 is visible", res.Assertions[0].Description)
	assert.Equal(t, "count of button >=1", res.Assertions[1].Description)
	assert.Equal(t, "found 3", res.Assertions[1].Detail)
	assert.Equal(t, []string{"http://localhost:3000/"}, app.Visits)
}

func TestRunUnreachableServerFailsBeforeAssertions(t *testing.T) {
	app := structureApp()
	app.NavErr = errors.New("net::ERR_CONNECTION_REFUSED")
	d := browsertest.NewDriver(app)
	profile := fastProfile(true)
	r := newRunner(t, profile, nil)

	res := r.Run(context.Background(), launch(t, d, profile), models.EngineChromium, basicStructure())

	assert.False(t, res.Passed)
	assert.Equal(t, models.ResultFailed, res.Status)
	assert.Contains(t, res.Error, "navigate to http://localhost:3000/ failed")
	assert.Contains(t, res.Error, "ERR_CONNECTION_REFUSED")
	assert.Empty(t, res.Assertions)
}

func TestRunFailureStatusIsNavigationError(t *testing.T) {
	app := structureApp()
	app.Status = 404
	d := browsertest.NewDriver(app)
	profile := fastProfile(true)
	r := newRunner(t, profile, nil)

	res := r.Run(context.Background(), launch(t, d, profile), models.EngineChromium, basicStructure())

	assert.False(t, res.Passed)
	assert.Contains(t, res.Error, "status 404")
	assert.Empty(t, res.Assertions)
}

func TestRunMissingSelectorStopsRemainingSteps(t *testing.T) {
	app := browsertest.NewApp(map[string]browsertest.Element{
		"button": {Count: 1, Visible: true},
	})
	d := browsertest.NewDriver(app)
	profile := fastProfile(true)
	r := newRunner(t, profile, nil)

	sc := Scenario{
		Name: "missing",
		Steps: []Step{
			Navigate("/"),
			WaitForSelector("h1", 0),
			Click("button"),
		},
	}
	res := r.Run(context.Background(), launch(t, d, profile), models.EngineChromium, sc)

	assert.False(t, res.Passed)
	require.Len(t, res.Assertions, 1)
	assert.False(t, res.Assertions[0].Passed)
	assert.Contains(t, res.Error, `waiting for "h1"`)
	assert.Contains(t, res.Error, "timed out after 200ms")
	assert.Empty(t, app.Clicks, "steps after a failure must not run")
}

func TestRunCountMismatchIsAssertionFailure(t *testing.T) {
	app := browsertest.NewApp(map[string]browsertest.Element{
		"h1": {Count: 1, Visible: true},
	})
	d := browsertest.NewDriver(app)
	profile := fastProfile(true)
	r := newRunner(t, profile, nil)

	res := r.Run(context.Background(), launch(t, d, profile), models.EngineChromium, basicStructure())

	assert.False(t, res.Passed)
	require.Len(t, res.Assertions, 2)
	assert.True(t, res.Assertions[0].Passed)
	assert.False(t, res.Assertions[1].Passed)
	assert.Contains(t, res.Error, "assertion failed: count of button >=1: expected >=1, got 0")
}

func TestRunAssertText(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		passed   bool
	}{
		{name: "contains", expected: "Revenue", passed: true},
		{name: "mismatch", expected: "Quarterly", passed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := browsertest.NewDriver(structureApp())
			profile := fastProfile(true)
			r := newRunner(t, profile, nil)

			sc := Scenario{Name: "title", Steps: []Step{Navigate("/"), AssertText("h1", tt.expected)}}
			res := r.Run(context.Background(), launch(t, d, profile), models.EngineChromium, sc)

			assert.Equal(t, tt.passed, res.Passed)
			require.Len(t, res.Assertions, 1)
			assert.Equal(t, tt.passed, res.Assertions[0].Passed)
			if !tt.passed {
				assert.Contains(t, res.Error, `got "APAC Revenue Projections"`)
			}
		})
	}
}

func TestRunEvaluateExpect(t *testing.T) {
	app := structureApp()
	app.Eval = func(expr string, storage map[string]string) (any, error) {
		switch expr {
		case "typeof window.addOrUpdateSegment":
			return "function", nil
		case "1 + 1":
			return float64(2), nil
		}
		return nil, nil
	}
	d := browsertest.NewDriver(app)
	profile := fastProfile(true)
	r := newRunner(t, profile, nil)

	sc := Scenario{Name: "eval", Steps: []Step{
		Navigate("/"),
		EvaluateExpect("typeof window.addOrUpdateSegment", "function"),
		Evaluate("1 + 1"),
		EvaluateExpect("typeof window.calculateProjections", "function"),
	}}
	res := r.Run(context.Background(), launch(t, d, profile), models.EngineChromium, sc)

	assert.False(t, res.Passed)
	require.Len(t, res.Assertions, 3)
	assert.True(t, res.Assertions[0].Passed)
	assert.Equal(t, "2", res.Assertions[1].Detail)
	assert.False(t, res.Assertions[2].Passed)
	assert.Contains(t, res.Error, "expected function, got undefined")
}

func TestRunRecoversBackendPanic(t *testing.T) {
	d := browsertest.NewDriver(structureApp())
	d.PanicOn = "Count"
	profile := fastProfile(true)
	r := newRunner(t, profile, nil)

	res := r.Run(context.Background(), launch(t, d, profile), models.EngineChromium, basicStructure())

	assert.False(t, res.Passed)
	assert.Equal(t, models.ResultFailed, res.Status)
	assert.Contains(t, res.Error, "unhandled defect")
	assert.Len(t, res.Assertions, 1)
}

func TestRunClosedBrowser(t *testing.T) {
	d := browsertest.NewDriver(structureApp())
	profile := fastProfile(true)
	r := newRunner(t, profile, nil)
	b := launch(t, d, profile)
	require.NoError(t, b.Close())

	res := r.Run(context.Background(), b, models.EngineChromium, basicStructure())

	assert.False(t, res.Passed)
	assert.Contains(t, res.Error, "browser closed")
}

func TestRunEmitsStepEvents(t *testing.T) {
	rec := &events.Recorder{}
	d := browsertest.NewDriver(structureApp())
	profile := fastProfile(true)
	r := newRunner(t, profile, rec)

	r.Run(context.Background(), launch(t, d, profile), models.EngineWebKit, basicStructure())

	assert.Len(t, rec.OfType(events.TypeScenarioStarted), 1)
	assert.Len(t, rec.OfType(events.TypeStepPassed), 3)
	sealed := rec.OfType(events.TypeScenarioSealed)
	require.Len(t, sealed, 1)
	assert.True(t, sealed[0].Passed)
	assert.Equal(t, "run-1", sealed[0].RunID)
	assert.Equal(t, models.EngineWebKit, sealed[0].Engine)
}

func TestRunModeDoesNotChangeAssertions(t *testing.T) {
	run := func(headless bool) models.ScenarioResult {
		d := browsertest.NewDriver(structureApp())
		profile := fastProfile(headless)
		r := newRunner(t, profile, nil)
		return r.Run(context.Background(), launch(t, d, profile), models.EngineChromium, basicStructure())
	}

	headless, visible := run(true), run(false)

	require.Equal(t, headless.Passed, visible.Passed)
	require.Len(t, visible.Assertions, len(headless.Assertions))
	for i := range headless.Assertions {
		assert.Equal(t, headless.Assertions[i], visible.Assertions[i])
	}
}

func TestRunWaitMsHonoursContext(t *testing.T) {
	d := browsertest.NewDriver(structureApp())
	profile := fastProfile(true)
	profile.Timeouts.Test = 50 * time.Millisecond
	r := newRunner(t, profile, nil)

	sc := Scenario{Name: "slow", Steps: []Step{Navigate("/"), WaitMs(5 * time.Second)}}
	start := time.Now()
	res := r.Run(context.Background(), launch(t, d, profile), models.EngineChromium, sc)

	assert.False(t, res.Passed)
	assert.Contains(t, res.Error, "deadline exceeded")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestResolve(t *testing.T) {
	r, err := NewRunner(Options{BaseURL: "http://localhost:4173"})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:4173/", r.Resolve("/"))
	assert.Equal(t, "http://localhost:4173/index-working.html", r.Resolve("/index-working.html"))
	assert.Equal(t, "http://localhost:4173/index.html", r.Resolve("index.html"))

	_, err = NewRunner(Options{BaseURL: "localhost"})
	assert.Error(t, err)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "undefined", FormatValue(nil))
	assert.Equal(t, "true", FormatValue(true))
	assert.Equal(t, "42", FormatValue(float64(42)))
	assert.Equal(t, "1.5", FormatValue(1.5))
	assert.Equal(t, "function", FormatValue("function"))
}
