package models

// AutoSaveKey is the only persisted key the harness touches
const AutoSaveKey = "autoSaveData"

// ResetOutcome reports what ResetAutoSave changed
type ResetOutcome struct {
	HadPriorState bool   `json:"hadPriorState"`
	ClearedKey    string `json:"clearedKey"`
}

// KillOutcome is the result of one termination attempt
type KillOutcome string

const (
	KillKilled           KillOutcome = "killed"
	KillNotFound         KillOutcome = "not_found"
	KillPermissionDenied KillOutcome = "permission_denied"
	KillError            KillOutcome = "error"
)

// KillAttempt records one pattern's termination attempt
type KillAttempt struct {
	Pattern string      `json:"pattern"`
	Outcome KillOutcome `json:"outcome"`
	Detail  string      `json:"detail,omitempty"`
}

// SanitizeResult is returned by the process sanitation utility
type SanitizeResult struct {
	Attempts       []KillAttempt `json:"attempts"`
	RemainingCount int           `json:"remainingCount"`
}
