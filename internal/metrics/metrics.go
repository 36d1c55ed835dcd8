package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "smokeharness",
		Name:      "sessions_active",
		Help:      "Browser sessions currently open.",
	})
	sessionsLaunched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smokeharness",
		Name:      "sessions_launched_total",
		Help:      "Browser sessions launched, by engine and backend.",
	}, []string{"engine", "backend"})
	launchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smokeharness",
		Name:      "launch_failures_total",
		Help:      "Browser launches that failed, by engine.",
	}, []string{"engine"})
	scenarios = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smokeharness",
		Name:      "scenarios_total",
		Help:      "Scenario results, by engine and status.",
	}, []string{"engine", "status"})
	scenarioDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "smokeharness",
		Name:      "scenario_duration_seconds",
		Help:      "Wall time of one scenario on one engine.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"engine"})
	killAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smokeharness",
		Name:      "kill_attempts_total",
		Help:      "Process sanitation attempts, by outcome.",
	}, []string{"outcome"})
)

func SessionOpened(engine models.EngineKind, backend string) {
	sessionsActive.Inc()
	sessionsLaunched.WithLabelValues(string(engine), backend).Inc()
}

func SessionClosed() {
	sessionsActive.Dec()
}

func LaunchFailed(engine models.EngineKind) {
	launchFailures.WithLabelValues(string(engine)).Inc()
}

// ScenarioFinished records a sealed result
func ScenarioFinished(res models.ScenarioResult) {
	scenarios.WithLabelValues(string(res.Engine), string(res.Status)).Inc()
	if res.Status != models.ResultNotRun {
		scenarioDuration.WithLabelValues(string(res.Engine)).Observe(res.Duration.Seconds())
	}
}

func KillAttempted(outcome models.KillOutcome) {
	killAttempts.WithLabelValues(string(outcome)).Inc()
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
