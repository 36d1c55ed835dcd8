// Package scenario runs declarative smoke scenarios against one browser.
package scenario

import (
	"fmt"
	"time"

	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

// StepKind names one scenario instruction
type StepKind string

const (
	StepNavigate        StepKind = "navigate"
	StepWaitForSelector StepKind = "waitForSelector"
	StepAssertCount     StepKind = "assertCount"
	StepAssertText      StepKind = "assertText"
	StepClick           StepKind = "click"
	StepEvaluate        StepKind = "evaluate"
	StepWaitMs          StepKind = "waitMs"
)

// Step is one instruction. Which fields apply depends on Kind.
type Step struct {
	Kind     StepKind `yaml:"kind" validate:"required,oneof=navigate waitForSelector assertCount assertText click evaluate waitMs"`
	Path     string   `yaml:"path,omitempty"`
	Selector string   `yaml:"selector,omitempty"`
	// TimeoutMs overrides the profile's assertion timeout for waits
	TimeoutMs  int        `yaml:"timeoutMs,omitempty" validate:"gte=0"`
	Count      Comparator `yaml:"count,omitempty"`
	Expected   string     `yaml:"expected,omitempty"`
	Expression string     `yaml:"expression,omitempty"`
	// Expect is compared with the evaluated value when set
	Expect     *string `yaml:"expect,omitempty"`
	DurationMs int     `yaml:"durationMs,omitempty" validate:"gte=0"`
}

// Navigate loads path relative to the base URL
func Navigate(path string) Step {
	return Step{Kind: StepNavigate, Path: path}
}

// WaitForSelector waits until selector is visible; a zero timeout uses the runner default
func WaitForSelector(selector string, timeout time.Duration) Step {
	return Step{Kind: StepWaitForSelector, Selector: selector, TimeoutMs: int(timeout.Milliseconds())}
}

// AssertCount checks the number of elements matching selector against cmp
func AssertCount(selector string, cmp Comparator) Step {
	return Step{Kind: StepAssertCount, Selector: selector, Count: cmp}
}

// AssertText checks that the text of selector contains expected
func AssertText(selector, expected string) Step {
	return Step{Kind: StepAssertText, Selector: selector, Expected: expected}
}

// Click clicks the first element matching selector
func Click(selector string) Step {
	return Step{Kind: StepClick, Selector: selector}
}

// Evaluate runs expression and records its value without checking it
func Evaluate(expression string) Step {
	return Step{Kind: StepEvaluate, Expression: expression}
}

// EvaluateExpect runs expression and fails unless its value renders as expect
func EvaluateExpect(expression, expect string) Step {
	return Step{Kind: StepEvaluate, Expression: expression, Expect: &expect}
}

// WaitMs pauses for d
func WaitMs(d time.Duration) Step {
	return Step{Kind: StepWaitMs, DurationMs: int(d.Milliseconds())}
}

// Timeout returns the step's wait timeout, or fallback when unset
func (s Step) Timeout(fallback time.Duration) time.Duration {
	if s.TimeoutMs > 0 {
		return time.Duration(s.TimeoutMs) * time.Millisecond
	}
	return fallback
}

// Check validates the fields required by the step kind
func (s Step) Check() error {
	switch s.Kind {
	case StepNavigate:
		if s.Path == "" {
			return fmt.Errorf("navigate: path is required")
		}
	case StepWaitForSelector, StepClick:
		if s.Selector == "" {
			return fmt.Errorf("%s: selector is required", s.Kind)
		}
	case StepAssertCount:
		if s.Selector == "" {
			return fmt.Errorf("assertCount: selector is required")
		}
		if s.Count.Op == "" {
			return fmt.Errorf("assertCount: count is required")
		}
	case StepAssertText:
		if s.Selector == "" || s.Expected == "" {
			return fmt.Errorf("assertText: selector and expected are required")
		}
	case StepEvaluate:
		if s.Expression == "" {
			return fmt.Errorf("evaluate: expression is required")
		}
	case StepWaitMs:
		if s.DurationMs <= 0 {
			return fmt.Errorf("waitMs: durationMs must be positive")
		}
	default:
		return fmt.Errorf("unknown step kind %q", s.Kind)
	}
	return nil
}

// String renders the step for logs and visit records
func (s Step) String() string {
	switch s.Kind {
	case StepNavigate:
		return fmt.Sprintf("navigate(%s)", s.Path)
	case StepAssertCount:
		return fmt.Sprintf("assertCount(%s, %s)", s.Selector, s.Count)
	case StepAssertText:
		return fmt.Sprintf("assertText(%s, %q)", s.Selector, s.Expected)
	case StepEvaluate:
		return fmt.Sprintf("evaluate(%s)", s.Expression)
	case StepWaitMs:
		return fmt.Sprintf("waitMs(%d)", s.DurationMs)
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.Selector)
}

// Scenario is an ordered list of steps run on one page
type Scenario struct {
	Name        string              `yaml:"name" validate:"required"`
	Description string              `yaml:"description,omitempty"`
	Engines     []models.EngineKind `yaml:"engines,omitempty" validate:"dive,oneof=chromium edge webkit"`
	// Only marks the scenario exclusive; CI runs reject it
	Only  bool   `yaml:"only,omitempty"`
	Steps []Step `yaml:"steps" validate:"required,min=1,dive"`
}

// RunsOn reports whether the scenario targets kind; no engines means all
func (s Scenario) RunsOn(kind models.EngineKind) bool {
	if len(s.Engines) == 0 {
		return true
	}
	for _, k := range s.Engines {
		if k == kind {
			return true
		}
	}
	return false
}

// HasExclusive reports whether any scenario carries the only marker
func HasExclusive(scenarios []Scenario) bool {
	for _, s := range scenarios {
		if s.Only {
			return true
		}
	}
	return false
}

// ApplyOnly narrows scenarios to the exclusive ones when any exist
func ApplyOnly(scenarios []Scenario) []Scenario {
	if !HasExclusive(scenarios) {
		return scenarios
	}
	var out []Scenario
	for _, s := range scenarios {
		if s.Only {
			out = append(out, s)
		}
	}
	return out
}

// Select returns the named scenarios in the order given. An empty name
// list selects everything.
func Select(scenarios []Scenario, names []string) ([]Scenario, error) {
	if len(names) == 0 {
		return scenarios, nil
	}
	byName := make(map[string]Scenario, len(scenarios))
	for _, s := range scenarios {
		byName[s.Name] = s
	}
	out := make([]Scenario, 0, len(names))
	for _, name := range names {
		s, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q", name)
		}
		out = append(out, s)
	}
	return out, nil
}
