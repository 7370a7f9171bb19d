package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"pkt.systems/pslog"
	"pkt.systems/tabsync/core"
	"pkt.systems/tabsync/internal/eventbus"
	"pkt.systems/tabsync/schema"
)

// WorkspaceStore exposes the workspace registry.
type WorkspaceStore interface {
	List() []schema.Workspace
	Load(ctx context.Context) int
}

// Coordinator runs client sessions.
type Coordinator interface {
	Serve(ctx context.Context, conn *core.Conn) error
	Sessions() []schema.SessionInfo
}

// Deps captures the collaborators of the HTTP server.
type Deps struct {
	Store       WorkspaceStore
	Coordinator Coordinator
	Hub         *Hub
	Bus         *eventbus.Bus
	// Tap observes session traffic. It is usually the same sink the
	// coordinator reports workspace events to.
	Tap core.TrafficTap
}

// Server serves the websocket session endpoint and the inspection API.
type Server struct {
	cfg      Config
	store    WorkspaceStore
	coord    Coordinator
	hub      *Hub
	bus      *eventbus.Bus
	tap      core.TrafficTap
	upgrader websocket.Upgrader
	basePath string
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("workspace store is required")
	}
	if deps.Coordinator == nil {
		return nil, errors.New("coordinator is required")
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(cfg.HubHistory, nil)
	}
	return &Server{
		cfg:      cfg,
		store:    deps.Store,
		coord:    deps.Coordinator,
		hub:      deps.Hub,
		bus:      deps.Bus,
		tap:      deps.Tap,
		upgrader: newUpgrader(),
		basePath: normalizeBasePath(cfg.BasePath),
	}, nil
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	root := mux.NewRouter()
	api := root
	if s.basePath != "" {
		root.Handle(s.basePath, http.RedirectHandler(s.basePath+"/", http.StatusTemporaryRedirect))
		api = root.PathPrefix(s.basePath).Subrouter()
	}
	api.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	api.HandleFunc("/api/workspaces", s.handleWorkspaces).Methods(http.MethodGet)
	api.HandleFunc("/api/workspaces/reload", s.handleReload).Methods(http.MethodPost)
	api.HandleFunc("/api/sessions", s.handleSessions).Methods(http.MethodGet)
	api.HandleFunc("/api/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/api/trace", s.handleTrace).Methods(http.MethodGet)
	return withRequestLogging(root)
}

func (s *Server) handleWorkspaces(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"workspaces": s.store.List()})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	loaded := s.store.Load(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"loaded": loaded})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.coord.Sessions()})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	workspaceID := schema.WorkspaceID(strings.TrimSpace(r.URL.Query().Get("workspace")))
	if workspaceID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: workspace is required", schema.ErrInvalidRequest))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := pslog.Ctx(r.Context()).With("workspace", workspaceID)

	ch, unsubscribe, _, history := s.hub.Subscribe(workspaceID)
	defer unsubscribe()

	setStreamHeaders(w)
	lastID := parseUint(r.Header.Get("Last-Event-ID"))
	replayCount := 0
	for _, event := range history {
		if event.Seq > lastID {
			_ = writeSSEvent(w, event.Seq, event)
			replayCount++
		}
	}
	flusher.Flush()

	log.Info("http events opened", "last_id", lastID, "replay", replayCount)
	for {
		select {
		case <-r.Context().Done():
			log.Info("http events closed")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			_ = writeSSEvent(w, event.Seq, event)
			flusher.Flush()
		}
	}
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	sessionID := schema.SessionID(strings.TrimSpace(r.URL.Query().Get("session")))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: session is required", schema.ErrInvalidRequest))
		return
	}
	if s.bus == nil {
		writeError(w, http.StatusNotFound, errors.New("trace unavailable"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := pslog.Ctx(r.Context()).With("session", sessionID)

	ch, unsubscribe := s.bus.Subscribe(sessionID)
	defer unsubscribe()

	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	log.Info("http trace opened")
	for {
		select {
		case <-r.Context().Done():
			log.Info("http trace closed")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			_ = writeSSEvent(w, 0, event)
			flusher.Flush()
		}
	}
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSSEvent(w http.ResponseWriter, id uint64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if id > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", id)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
