package models

import (
	"fmt"
	"strings"
	"time"
)

// EngineKind identifies a browser engine family
type EngineKind string

const (
	EngineChromium EngineKind = "chromium"
	EngineEdge     EngineKind = "edge"
	EngineWebKit   EngineKind = "webkit"
)

// AllEngines lists every supported engine in report order
var AllEngines = []EngineKind{EngineChromium, EngineEdge, EngineWebKit}

// ParseEngineKind accepts the engine names used in env vars and scenario files
func ParseEngineKind(s string) (EngineKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chromium", "chrome":
		return EngineChromium, nil
	case "edge", "msedge":
		return EngineEdge, nil
	case "webkit", "safari":
		return EngineWebKit, nil
	}
	return "", fmt.Errorf("unknown engine %q", s)
}

// SessionStatus represents the current state of a browser session
type SessionStatus string

const (
	StatusRunning SessionStatus = "RUNNING"
	StatusClosed  SessionStatus = "CLOSED"
	StatusError   SessionStatus = "ERROR"
)

// Session is the public view of one running engine instance
type Session struct {
	ID        string             `json:"id"`
	RunID     string             `json:"runId,omitempty"`
	Engine    EngineKind         `json:"engine"`
	Backend   string             `json:"backend"`
	Status    SessionStatus      `json:"status"`
	Profile   EnvironmentProfile `json:"profile"`
	StartedAt time.Time          `json:"startedAt"`
	ClosedAt  *time.Time         `json:"closedAt,omitempty"`
	Error     string             `json:"error,omitempty"`
}
