package models

import "time"

// ResultStatus is the terminal state of a scenario on one engine
type ResultStatus string

const (
	ResultPassed ResultStatus = "passed"
	ResultFailed ResultStatus = "failed"
	ResultNotRun ResultStatus = "not_run"
)

// AssertionRecord is one checked expectation within a scenario
type AssertionRecord struct {
	Description string `json:"description"`
	Passed      bool   `json:"passed"`
	Detail      string `json:"detail,omitempty"`
}

// ScenarioResult is the sealed outcome of one scenario on one engine
type ScenarioResult struct {
	Name       string            `json:"name"`
	Engine     EngineKind        `json:"engine"`
	Status     ResultStatus      `json:"status"`
	Passed     bool              `json:"passed"`
	Assertions []AssertionRecord `json:"assertions"`
	Duration   time.Duration     `json:"-"`
	DurationMs int64             `json:"durationMs"`
	Error      string            `json:"error,omitempty"`
	Attempts   int               `json:"attempts,omitempty"`
}

// Tier names a group of tests the orchestrator can run
type Tier string

const (
	TierUnit        Tier = "unit"
	TierIntegration Tier = "integration"
	TierE2E         Tier = "e2e"
)

// Capability is the outcome of the startup probe
type Capability string

const (
	CapabilityFull         Capability = "full"
	CapabilityReducedNoE2E Capability = "reduced-no-e2e"
)

// TierStatus describes what happened to a requested tier
type TierStatus string

const (
	TierPassed  TierStatus = "passed"
	TierFailed  TierStatus = "failed"
	TierSkipped TierStatus = "skipped"
	TierAborted TierStatus = "aborted"
)

// TierResult summarizes one tier of a run
type TierResult struct {
	Tier       Tier          `json:"tier"`
	Status     TierStatus    `json:"status"`
	Detail     string        `json:"detail,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"durationMs"`
}

// RunReport aggregates every tier and scenario result of one invocation
type RunReport struct {
	ID         string             `json:"id"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
	Capability Capability         `json:"capability"`
	Profile    EnvironmentProfile `json:"profile"`
	Tiers      []TierResult       `json:"tiers"`
	Results    []ScenarioResult   `json:"results"`
	Passed     bool               `json:"passed"`
}

// Counts returns passed, failed and not-run scenario counts
func (r *RunReport) Counts() (passed, failed, notRun int) {
	for _, res := range r.Results {
		switch res.Status {
		case ResultPassed:
			passed++
		case ResultFailed:
			failed++
		case ResultNotRun:
			notRun++
		}
	}
	return passed, failed, notRun
}
