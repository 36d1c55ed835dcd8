package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shehryarbajwa/smokeharness/internal/events"
	"github.com/shehryarbajwa/smokeharness/internal/ratelimit"
	"github.com/shehryarbajwa/smokeharness/internal/store"
	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

type fakeRuns struct {
	started  []models.RunRequest
	statuses map[string]models.RunStatus
	reports  map[string]*models.RunReport
	startErr error
}

func (f *fakeRuns) Start(req models.RunRequest) (models.RunStatus, error) {
	if f.startErr != nil {
		return models.RunStatus{}, f.startErr
	}
	f.started = append(f.started, req)
	st := models.RunStatus{ID: fmt.Sprintf("run-%d", len(f.started)), State: models.RunRunning}
	f.statuses[st.ID] = st
	return st, nil
}

func (f *fakeRuns) Status(id string) (models.RunStatus, bool) {
	st, ok := f.statuses[id]
	return st, ok
}

func (f *fakeRuns) Get(ctx context.Context, id string) (*models.RunReport, error) {
	if r, ok := f.reports[id]; ok {
		return r, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeRuns) List(ctx context.Context, limit int) ([]store.Summary, error) {
	out := []store.Summary{}
	for id, r := range f.reports {
		out = append(out, store.Summary{ID: id, Passed: r.Passed})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeSessions struct {
	sessions map[string]models.Session
	closed   []string
}

func (f *fakeSessions) Get(id string) (models.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return models.Session{}, errors.New("session not found")
	}
	return s, nil
}

func (f *fakeSessions) List(runID string, status models.SessionStatus) []models.Session {
	var out []models.Session
	for _, s := range f.sessions {
		if runID != "" && s.RunID != runID {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (f *fakeSessions) Close(id string) error {
	if _, ok := f.sessions[id]; !ok {
		return errors.New("session not found")
	}
	f.closed = append(f.closed, id)
	return nil
}

type fakeMaintenance struct {
	had       bool
	resetErr  error
	remaining int
}

func (f *fakeMaintenance) ResetAutoSave(ctx context.Context) (models.ResetOutcome, error) {
	if f.resetErr != nil {
		return models.ResetOutcome{}, f.resetErr
	}
	had := f.had
	f.had = false
	return models.ResetOutcome{HadPriorState: had, ClearedKey: models.AutoSaveKey}, nil
}

func (f *fakeMaintenance) Sanitize(ctx context.Context) models.SanitizeResult {
	return models.SanitizeResult{
		Attempts:       []models.KillAttempt{{Pattern: "chrome", Outcome: models.KillNotFound}},
		RemainingCount: f.remaining,
	}
}

type fixture struct {
	server   *httptest.Server
	runs     *fakeRuns
	sessions *fakeSessions
	maint    *fakeMaintenance
	hub      *events.Hub
}

func newFixture(t *testing.T, limiter *ratelimit.Limiter) *fixture {
	t.Helper()
	f := &fixture{
		runs: &fakeRuns{
			statuses: map[string]models.RunStatus{},
			reports: map[string]*models.RunReport{
				"done": {ID: "done", Passed: true, Capability: models.CapabilityFull},
			},
		},
		sessions: &fakeSessions{sessions: map[string]models.Session{
			"s1": {ID: "s1", RunID: "done", Engine: models.EngineChromium, Status: models.StatusRunning},
		}},
		maint: &fakeMaintenance{had: true},
		hub:   events.NewHub(zaptest.NewLogger(t)),
	}
	if limiter == nil {
		limiter = ratelimit.NewLimiter(100, 10)
	}
	logger := zaptest.NewLogger(t)
	h := NewHandler(f.runs, f.sessions, logger)
	router := h.SetupRoutes(NewMaintenanceHandler(f.maint, f.maint, logger), f.hub, limiter)
	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestStartRun(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/v1/runs", `{"tiers":["e2e"],"engines":["webkit"],"scenarios":["basic-structure"]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "/v1/runs/run-1", resp.Header.Get("Location"))

	var status models.RunStatus
	decode(t, resp, &status)
	assert.Equal(t, models.RunRunning, status.State)

	require.Len(t, f.runs.started, 1)
	assert.Equal(t, []models.Tier{models.TierE2E}, f.runs.started[0].Tiers)
	assert.Equal(t, []models.EngineKind{models.EngineWebKit}, f.runs.started[0].Engines)
}

func TestStartRunEmptyBodyUsesDefaults(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/v1/runs", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, f.runs.started, 1)
	assert.Empty(t, f.runs.started[0].Tiers)
}

func TestStartRunErrors(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/v1/runs", `{"tiers":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.runs.startErr = fmt.Errorf("%w: unknown scenario \"nope\"", ErrInvalidRequest)
	resp = f.do(t, http.MethodPost, "/v1/runs", `{"scenarios":["nope"]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string]string
	decode(t, resp, &body)
	assert.Contains(t, body["error"], "unknown scenario")
}

func TestGetRun(t *testing.T) {
	f := newFixture(t, nil)
	f.runs.statuses["live"] = models.RunStatus{ID: "live", State: models.RunRunning}

	resp := f.do(t, http.MethodGet, "/v1/runs/done", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report models.RunReport
	decode(t, resp, &report)
	assert.True(t, report.Passed)

	resp = f.do(t, http.MethodGet, "/v1/runs/live", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status models.RunStatus
	decode(t, resp, &status)
	assert.Equal(t, models.RunRunning, status.State)

	resp = f.do(t, http.MethodGet, "/v1/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListRuns(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/v1/runs?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs []store.Summary
	decode(t, resp, &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, "done", runs[0].ID)

	resp = f.do(t, http.MethodGet, "/v1/runs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessions(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/v1/sessions?runId=done", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.Session
	decode(t, resp, &list)
	require.Len(t, list, 1)

	resp = f.do(t, http.MethodGet, "/v1/sessions?runId=other", "")
	var empty []models.Session
	decode(t, resp, &empty)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	resp = f.do(t, http.MethodGet, "/v1/sessions/s1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.do(t, http.MethodGet, "/v1/sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/v1/sessions/s1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"s1"}, f.sessions.closed)
}

func TestMaintenanceEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/v1/maintenance/reset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var outcome models.ResetOutcome
	decode(t, resp, &outcome)
	assert.True(t, outcome.HadPriorState)

	resp = f.do(t, http.MethodPost, "/v1/maintenance/reset", "")
	decode(t, resp, &outcome)
	assert.False(t, outcome.HadPriorState)

	f.maint.remaining = 2
	resp = f.do(t, http.MethodPost, "/v1/maintenance/sanitize", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		RemainingCount int    `json:"remainingCount"`
		Warning        string `json:"warning"`
	}
	decode(t, resp, &body)
	assert.Equal(t, 2, body.RemainingCount)
	assert.Contains(t, body.Warning, "2 still running")

	f.maint.resetErr = errors.New("navigate failed")
	resp = f.do(t, http.MethodPost, "/v1/maintenance/reset", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, ratelimit.NewLimiter(1, 2))

	for i := 0; i < 2; i++ {
		resp := f.do(t, http.MethodPost, "/v1/runs", "")
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	resp := f.do(t, http.MethodPost, "/v1/runs", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

	// reads are not limited
	resp = f.do(t, http.MethodGet, "/v1/runs", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.168.1.5:4411"
	assert.Equal(t, "192.168.1.5", clientKey(r))

	r.Header.Set("X-Forwarded-For", "10.1.1.1, 172.16.0.1")
	assert.Equal(t, "10.1.1.1", clientKey(r))
}

func TestMetricsAndHealth(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, nil)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.hub.Emit(events.Event{Type: events.TypeScenarioSealed, Scenario: "basic-structure", Passed: true})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.TypeScenarioSealed, got.Type)
	assert.Equal(t, "basic-structure", got.Scenario)
	assert.True(t, got.Passed)
}
