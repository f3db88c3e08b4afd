// Package statusapi exposes the daemon's read-only introspection surface
// (SPEC_FULL §4.1): a JSON status endpoint, a Prometheus metrics
// endpoint, and a websocket stream broadcasting lifecycle and progress
// events to local dashboard clients. The websocket hub is adapted from
// the teacher's internal/websocket/dag_streamer.go (register/unregister/
// broadcast channels draining into a client map); the HTTP routing is
// gorilla/mux, the teacher's router of choice. This surface is purely
// observational — it exposes no control endpoints and binds to
// 127.0.0.1 by default.
package statusapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moverstatus/moverd/internal/logging"
)

// StatusSnapshot is the orchestrator's current externally-visible state
// (SPEC_FULL §4.1).
type StatusSnapshot struct {
	LifecycleState  string  `json:"lifecycle_state"`
	ActiveCycleID   string  `json:"active_cycle_id,omitempty"`
	ProgressPercent float64 `json:"progress_percent,omitempty"`
	MovedBytes      int64   `json:"moved_bytes,omitempty"`
	TotalBytes      int64   `json:"total_bytes,omitempty"`
	RateBytesPerSec float64 `json:"rate_bytes_per_second,omitempty"`
	HasProgress     bool    `json:"-"`
	DispatcherReady bool    `json:"dispatcher_ready"`
}

// StatusProvider is implemented by the orchestrator; statusapi never
// mutates orchestrator state, only reads it.
type StatusProvider interface {
	Status() StatusSnapshot
}

// StreamEvent is broadcast to every connected websocket client whenever
// a lifecycle transition happens or a progress sample is computed.
type StreamEvent struct {
	Kind      string `json:"kind"` // "lifecycle" or "progress"
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
}

// Server wires the HTTP router, the Prometheus handler, and the
// websocket hub together.
type Server struct {
	router   *mux.Router
	provider StatusProvider
	logger   *slog.Logger
	hub      *hub
}

// New returns a Server. provider supplies the /status payload; gatherer
// is the prometheus.Gatherer the caller's internal/metrics collectors
// were registered against (see cmd/moverd for wiring) — /metrics is
// served from exactly that gatherer, never prometheus.DefaultGatherer.
func New(provider StatusProvider, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	logger = logging.Default(logger)
	s := &Server{
		router:   mux.NewRouter(),
		provider: provider,
		logger:   logger,
		hub:      newHub(),
	}
	go s.hub.run()

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/stream", s.handleStream)

	return s
}

// Handler returns the http.Handler to mount (e.g. into http.Server).
func (s *Server) Handler() http.Handler {
	return s.router
}

// Broadcast pushes evt to every connected websocket client.
func (s *Server) Broadcast(evt StreamEvent) {
	s.hub.broadcast <- evt
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := s.provider.Status()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		s.logger.Error("status encode failed",
			logging.NewFields().Component("statusapi").Operation("status").Error(err).Args()...)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local-only introspection surface (binds 127.0.0.1 by default);
	// origin checking is left permissive accordingly.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			logging.NewFields().Component("statusapi").Operation("stream").Error(err).Args()...)
		return
	}
	s.hub.register <- conn
}

// hub is the register/unregister/broadcast pattern adapted from
// dag_streamer.go, generalized from DAG-specific events to StreamEvent.
type hub struct {
	mu         sync.Mutex
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan StreamEvent
}

func newHub() *hub {
	return &hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan StreamEvent, 64),
	}
}

func (h *hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = struct{}{}
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				_ = conn.Close()
			}
			h.mu.Unlock()

		case evt := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteJSON(evt); err != nil {
					delete(h.clients, conn)
					_ = conn.Close()
				}
			}
			h.mu.Unlock()
		}
	}
}
