// Package events carries run progress to websocket subscribers.
package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

// Event type names
const (
	TypeRunStarted      = "run:started"
	TypeRunFinished     = "run:finished"
	TypeSessionOpened   = "session:opened"
	TypeSessionClosed   = "session:closed"
	TypeScenarioStarted = "scenario:started"
	TypeStepPassed      = "step:passed"
	TypeStepFailed      = "step:failed"
	TypeScenarioSealed  = "scenario:sealed"
)

// Event is one progress notification of a run
type Event struct {
	Type      string            `json:"type"`
	RunID     string            `json:"runId,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
	Engine    models.EngineKind `json:"engine,omitempty"`
	Scenario  string            `json:"scenario,omitempty"`
	Step      string            `json:"step,omitempty"`
	Index     int               `json:"index,omitempty"`
	Passed    bool              `json:"passed"`
	Detail    string            `json:"detail,omitempty"`
	Time      time.Time         `json:"time"`
}

// Emitter publishes events. Implementations must not block.
type Emitter interface {
	Emit(Event)
}

// Nop discards events
type Nop struct{}

func (Nop) Emit(Event) {}

// Recorder keeps every event in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of what was recorded
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns recorded events with the given type
func (r *Recorder) OfType(t string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans events out to websocket subscribers. Slow clients lose events
// instead of stalling the run.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan Event
	logger  *zap.Logger
}

// NewHub returns a Hub with no subscribers
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*websocket.Conn]chan Event),
		logger:  logger,
	}
}

// Emit fans e out to every subscriber, dropping it for slow ones
func (h *Hub) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn, ch := range h.clients {
		select {
		case ch <- e:
		default:
			h.logger.Debug("event buffer full, dropping", zap.String("client", conn.RemoteAddr().String()))
		}
	}
}

// Clients returns the number of connected subscribers
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the client leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := make(chan Event, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	h.logger.Debug("event subscriber connected", zap.String("client", conn.RemoteAddr().String()))

	// the read side only exists to notice the client closing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("event subscriber error", zap.Error(err))
				}
				return
			}
		}
	}()

	for {
		select {
		case e := <-ch:
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug("failed to write event", zap.Error(err))
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
