package models

import "time"

// RunRequest asks the harness to start a run. Empty fields use the
// configured defaults.
type RunRequest struct {
	Tiers     []Tier       `json:"tiers,omitempty"`
	Engines   []EngineKind `json:"engines,omitempty"`
	Scenarios []string     `json:"scenarios,omitempty"`
}

// RunState is the lifecycle of a run started through the API
type RunState string

const (
	RunRunning  RunState = "running"
	RunFinished RunState = "finished"
	RunErrored  RunState = "error"
)

// RunStatus tracks a run that may still be in flight
type RunStatus struct {
	ID        string    `json:"id"`
	State     RunState  `json:"state"`
	StartedAt time.Time `json:"startedAt"`
	Passed    bool      `json:"passed"`
	Error     string    `json:"error,omitempty"`
}
