package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/smokeharness/internal/browser"
	"github.com/shehryarbajwa/smokeharness/internal/events"
	"github.com/shehryarbajwa/smokeharness/internal/metrics"
	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

// Session owns one launched browser. Close is idempotent and releases the
// manager slot exactly once.
type Session struct {
	mu      sync.Mutex
	info    models.Session
	browser browser.Browser
	release func()

	closeOnce sync.Once
	closeErr  error
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.info.ID
}

// Engine returns the engine the session was launched with
func (s *Session) Engine() models.EngineKind {
	return s.info.Engine
}

// Info returns a snapshot of the session
func (s *Session) Info() models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// IsOpen reports whether the session has not been closed yet
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.Status == models.StatusRunning
}

// Browser exposes the engine instance for the scenario runner
func (s *Session) Browser() browser.Browser {
	return s.browser
}

// NewPage opens a page on the session's browser
func (s *Session) NewPage(ctx context.Context) (browser.Page, error) {
	if !s.IsOpen() {
		return nil, browser.ErrBrowserClosed
	}
	return s.browser.NewPage(ctx)
}

// Close shuts the browser down and records the final status
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.browser.Close()

		now := time.Now()
		s.mu.Lock()
		s.info.Status = models.StatusClosed
		s.info.ClosedAt = &now
		if s.closeErr != nil {
			s.info.Status = models.StatusError
			s.info.Error = s.closeErr.Error()
		}
		s.mu.Unlock()

		s.release()
	})
	return s.closeErr
}

// DefaultHistory is how many closed sessions a Manager remembers
const DefaultHistory = 256

// Manager launches, tracks and closes browser sessions
type Manager struct {
	sessions sync.Map // id -> *Session
	driver   browser.Driver
	slots    *semaphore.Weighted
	emitter  events.Emitter
	logger   *zap.Logger

	historyMu sync.Mutex
	closed    []string // oldest first
	history   int
}

// Options configure a Manager
type Options struct {
	// Workers caps concurrently open sessions; zero means unlimited
	Workers int
	// History caps how many closed sessions stay listed; zero means DefaultHistory
	History int
	Emitter events.Emitter
	Logger  *zap.Logger
}

// NewManager creates a Manager launching browsers through driver
func NewManager(driver browser.Driver, opts Options) *Manager {
	m := &Manager{
		driver:  driver,
		emitter: opts.Emitter,
		logger:  opts.Logger,
		history: opts.History,
	}
	if m.history <= 0 {
		m.history = DefaultHistory
	}
	if opts.Workers > 0 {
		m.slots = semaphore.NewWeighted(int64(opts.Workers))
	}
	if m.emitter == nil {
		m.emitter = events.Nop{}
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m
}

// Launch waits for a free slot and starts a browser. Launch failures are
// returned as *browser.LaunchError.
func (m *Manager) Launch(ctx context.Context, runID string, kind models.EngineKind, profile models.EnvironmentProfile) (*Session, error) {
	release, err := m.acquireSlot(ctx)
	if err != nil {
		return nil, &browser.LaunchError{Engine: kind, Backend: m.driver.Name(), Err: err}
	}

	sessionID := uuid.New().String()
	log := m.logger.With(zap.String("session", sessionID[:8]), zap.String("engine", string(kind)))
	log.Debug("launching browser", zap.Bool("headless", profile.Headless), zap.Duration("slowMo", profile.SlowMo))

	b, err := m.driver.Launch(ctx, kind, profile)
	if err != nil {
		release()
		metrics.LaunchFailed(kind)
		log.Warn("launch failed", zap.Error(err))
		return nil, err
	}

	s := &Session{
		info: models.Session{
			ID:        sessionID,
			RunID:     runID,
			Engine:    kind,
			Backend:   b.Backend(),
			Status:    models.StatusRunning,
			Profile:   profile,
			StartedAt: time.Now(),
		},
		browser: b,
	}
	s.release = func() {
		release()
		m.forgetOldest(sessionID)
		metrics.SessionClosed()
		m.emitter.Emit(events.Event{Type: events.TypeSessionClosed, RunID: runID, SessionID: sessionID, Engine: kind})
		log.Debug("session closed")
	}

	m.sessions.Store(sessionID, s)
	metrics.SessionOpened(kind, b.Backend())
	m.emitter.Emit(events.Event{Type: events.TypeSessionOpened, RunID: runID, SessionID: sessionID, Engine: kind})
	log.Info("session opened", zap.String("backend", b.Backend()))

	return s, nil
}

// WithSession launches a session, hands it to fn and always closes it,
// including when fn panics
func (m *Manager) WithSession(ctx context.Context, runID string, kind models.EngineKind, profile models.EnvironmentProfile, fn func(*Session) error) (err error) {
	s, err := m.Launch(ctx, runID, kind, profile)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session %s: unhandled defect: %v", s.ID()[:8], r)
		}
		if closeErr := s.Close(); closeErr != nil {
			m.logger.Warn("failed to close session", zap.String("session", s.ID()[:8]), zap.Error(closeErr))
		}
	}()
	return fn(s)
}

// Get retrieves a session by ID
func (m *Manager) Get(id string) (models.Session, error) {
	value, ok := m.sessions.Load(id)
	if !ok {
		return models.Session{}, fmt.Errorf("session not found")
	}
	return value.(*Session).Info(), nil
}

// List returns sessions, optionally filtered by run and status
func (m *Manager) List(runID string, status models.SessionStatus) []models.Session {
	var sessions []models.Session

	m.sessions.Range(func(key, value interface{}) bool {
		info := value.(*Session).Info()

		if runID != "" && info.RunID != runID {
			return true
		}
		if status != "" && info.Status != status {
			return true
		}

		sessions = append(sessions, info)
		return true
	})

	return sessions
}

// Active counts sessions that are still open
func (m *Manager) Active() int {
	return len(m.List("", models.StatusRunning))
}

// Close closes one session; closing a closed session is a no-op
func (m *Manager) Close(id string) error {
	value, ok := m.sessions.Load(id)
	if !ok {
		return fmt.Errorf("session not found")
	}
	return value.(*Session).Close()
}

// CloseAll closes every open session
func (m *Manager) CloseAll() {
	m.sessions.Range(func(key, value interface{}) bool {
		s := value.(*Session)
		if s.IsOpen() {
			if err := s.Close(); err != nil {
				m.logger.Warn("failed to close session", zap.String("session", s.ID()[:8]), zap.Error(err))
			}
		}
		return true
	})
}

// forgetOldest records id as closed and drops the oldest closed sessions
// beyond the history cap
func (m *Manager) forgetOldest(id string) {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()

	m.closed = append(m.closed, id)
	for len(m.closed) > m.history {
		m.sessions.Delete(m.closed[0])
		m.closed = m.closed[1:]
	}
}

// acquireSlot blocks until a concurrency slot is free
func (m *Manager) acquireSlot(ctx context.Context) (func(), error) {
	if m.slots == nil {
		return func() {}, nil
	}
	if err := m.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a free worker: %w", err)
	}
	var once sync.Once
	return func() {
		once.Do(func() { m.slots.Release(1) })
	}, nil
}
