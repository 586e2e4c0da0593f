// Package server exposes the engine over HTTP/WebSocket to a desktop shell
// or UI layer (spec.md §6), wiring go-chi for routing and gorilla/websocket
// for the event stream, the way the teacher's internal/browser relay wires
// chi.NewRouter to a websocket-upgraded handler (see DESIGN.md).
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wayfarer-dev/wayfarer/internal/bcs"
	"github.com/wayfarer-dev/wayfarer/internal/config"
	"github.com/wayfarer-dev/wayfarer/internal/eventhub"
	"github.com/wayfarer-dev/wayfarer/internal/logging"
	"github.com/wayfarer-dev/wayfarer/internal/orchestrator"
	"github.com/wayfarer-dev/wayfarer/internal/planner"
	"github.com/wayfarer-dev/wayfarer/internal/recorder"
	"github.com/wayfarer-dev/wayfarer/internal/recordingstore"
	"github.com/wayfarer-dev/wayfarer/internal/store"
	"github.com/wayfarer-dev/wayfarer/internal/toolregistry"
	"github.com/wayfarer-dev/wayfarer/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server holds every long-lived dependency the command surface dispatches
// into: the browser surface, persistence, planner, and the event hub that
// pushes progress back out to observers.
type Server struct {
	cfg        config.Config
	surface    *bcs.Surface
	store      *store.Store
	recordings *recordingstore.Store
	registry   *toolregistry.Registry
	planner    planner.Planner
	hub        *eventhub.Hub

	mu          sync.Mutex
	activeTabID string
	activeRec   *recorder.Recorder
}

// New builds a Server. Call Router to obtain its http.Handler and Hub().Run
// in a goroutine to service the event hub.
func New(cfg config.Config, surface *bcs.Surface, st *store.Store, recordings *recordingstore.Store, registry *toolregistry.Registry, pl planner.Planner) *Server {
	return &Server{
		cfg:        cfg,
		surface:    surface,
		store:      st,
		recordings: recordings,
		registry:   registry,
		planner:    pl,
		hub:        eventhub.New(),
	}
}

// Hub returns the server's event hub, for the caller to run and to wire
// into any other event producer that should fan out to observers.
func (s *Server) Hub() *eventhub.Hub { return s.hub }

// Router builds the chi mux: a websocket event stream plus the command and
// session-management REST surface (spec.md §6).
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/events", s.handleEvents)
	r.Post("/command", s.handleCommand)
	r.Get("/sessions", s.handleListSessions)
	r.Get("/sessions/{id}", s.handleGetSession)
	r.Delete("/sessions/{id}", s.handleDeleteSession)
	return r
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Errorf("server: websocket upgrade: %v", err)
		return
	}
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = "client-" + uuid.NewString()[:8]
	}
	s.hub.Serve(clientID, conn)
}

// command is the envelope every POST /command body must satisfy, matching
// the UI-facing command names named in spec.md §6.
type command struct {
	Name   string          `json:"command"`
	Params json.RawMessage `json:"params"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "invalid command body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	result, err := s.dispatch(ctx, cmd)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *Server) dispatch(ctx context.Context, cmd command) (any, error) {
	switch cmd.Name {
	case "createTab":
		return s.createTab(ctx)
	case "switchToTab":
		var p struct {
			TabID string `json:"tabId"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.switchToTab(ctx, p.TabID)
	case "navigate":
		var p struct {
			TabID string `json:"tabId"`
			URL   string `json:"url"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.navigate(ctx, p.TabID, p.URL)
	case "startRecording":
		var p struct {
			TabID    string `json:"tabId"`
			StartURL string `json:"startUrl"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.startRecording(ctx, p.TabID, p.StartURL)
	case "stopRecording":
		return s.stopRecording()
	case "executeIterativeAutomation":
		var p struct {
			TabID       string `json:"tabId"`
			UserGoal    string `json:"userGoal"`
			RecordingID string `json:"recordingId"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return s.executeIterativeAutomation(ctx, p.TabID, p.UserGoal, p.RecordingID)
	case "loadAutomationSession":
		var p struct {
			SessionID string `json:"sessionId"`
			TabID     string `json:"tabId"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.loadAutomationSession(ctx, p.TabID, p.SessionID)
	case "deleteAutomationSession":
		var p struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.store.DeleteSession(ctx, p.SessionID)
	default:
		return nil, errUnknownCommand(cmd.Name)
	}
}

type errUnknownCommand string

func (e errUnknownCommand) Error() string { return "unknown command: " + string(e) }

func (s *Server) createTab(ctx context.Context) (any, error) {
	tabID := uuid.NewString()
	if _, err := s.surface.Attach(tabID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.activeTabID = tabID
	s.mu.Unlock()
	return map[string]string{"tabId": tabID}, nil
}

func (s *Server) switchToTab(ctx context.Context, tabID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeRec != nil {
		if err := s.activeRec.Switch(ctx, tabID); err != nil {
			return err
		}
	}
	s.activeTabID = tabID
	return nil
}

func (s *Server) navigate(ctx context.Context, tabID, url string) error {
	tab, err := s.surface.Attach(tabID)
	if err != nil {
		return err
	}
	defer s.surface.Detach(tabID)
	return tab.Navigate(ctx, url, bcs.WaitNetworkIdle, s.cfg.Timeouts.Navigate)
}

func (s *Server) startRecording(ctx context.Context, tabID, startURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeRec != nil {
		return errAlreadyRecording
	}
	rec := recorder.New(s.surface, recorderEvents{s.hub}, s.cfg.MaxRecordingActions)
	if err := rec.Start(ctx, tabID, startURL); err != nil {
		return err
	}
	s.activeRec = rec
	s.activeTabID = tabID
	return nil
}

var errAlreadyRecording = errUnknownCommand("recording already in progress")

func (s *Server) stopRecording() (any, error) {
	s.mu.Lock()
	rec := s.activeRec
	s.activeRec = nil
	s.mu.Unlock()

	if rec == nil {
		return nil, errUnknownCommand("no recording in progress")
	}
	session := rec.Stop()
	if err := s.recordings.Save(session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Server) executeIterativeAutomation(ctx context.Context, tabID, userGoal, recordingID string) (any, error) {
	tab, err := s.surface.Attach(tabID)
	if err != nil {
		return nil, err
	}

	var cached *types.RecordingSession
	if recordingID != "" {
		cached, err = s.recordings.Load(recordingID)
		if err != nil {
			s.surface.Detach(tabID)
			return nil, err
		}
	}

	orch := orchestrator.New(s.store, s.planner, s.registry, tab, s.cfg, orchestratorEvents{s.hub})
	sessionID := uuid.NewString()
	go func() {
		defer s.surface.Detach(tabID)
		runCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := orch.Run(runCtx, userGoal, recordingID, cached); err != nil {
			logging.Errorf("server: automation run failed: %v", err)
		}
	}()
	return map[string]string{"sessionId": sessionID}, nil
}

func (s *Server) loadAutomationSession(ctx context.Context, tabID, sessionID string) error {
	tab, err := s.surface.Attach(tabID)
	if err != nil {
		return err
	}
	orch := orchestrator.New(s.store, s.planner, s.registry, tab, s.cfg, orchestratorEvents{s.hub})
	go func() {
		defer s.surface.Detach(tabID)
		runCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := orch.Resume(runCtx, sessionID); err != nil {
			logging.Errorf("server: automation resume failed: %v", err)
		}
	}()
	return nil
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	sessions, err := s.store.ListSessions(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	loaded, err := s.store.LoadSession(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loaded)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteSession(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
