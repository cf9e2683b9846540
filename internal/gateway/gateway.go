// Package gateway exposes the orchestrator over HTTP: a REST API for
// task and agent operations plus a WebSocket stream of lifecycle events.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/conductor/internal/agent"
	"github.com/basket/conductor/internal/bus"
	"github.com/basket/conductor/internal/journal"
	"github.com/basket/conductor/internal/otel"
	"github.com/basket/conductor/internal/task"
)

// Config holds the gateway's collaborators.
type Config struct {
	Manager  *task.Manager
	Registry *agent.Registry
	Bus      *bus.Bus
	Journal  *journal.Journal // nil disables /api/tasks/{id}/events
	Logger   *slog.Logger

	// AllowOrigins controls accepted Origin headers for browser WS
	// connections. Empty list means same-origin only.
	AllowOrigins []string

	// ConfigFingerprint is the hash of active config exposed on /healthz.
	ConfigFingerprint string

	// Metrics, when set, records request durations.
	Metrics *otel.Metrics

	// Tracer, when set, starts a server span per API request.
	Tracer trace.Tracer
}

// Server handles HTTP and WebSocket traffic.
type Server struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/tasks", s.instrument("/api/tasks", s.handleTasks))
	mux.HandleFunc("/api/tasks/", s.instrument("/api/tasks/{id}", s.handleTaskByID))
	mux.HandleFunc("/api/agents", s.instrument("/api/agents", s.handleAgents))
	mux.HandleFunc("/api/agents/", s.instrument("/api/agents/{id}", s.handleAgentByID))
	mux.HandleFunc("/api/stats", s.instrument("/api/stats", s.handleStats))
	return mux
}

// instrument wraps a route handler in a server span and a request
// duration metric, when tracing and metrics are wired.
func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	if s.cfg.Metrics == nil && s.cfg.Tracer == nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Tracer != nil {
			ctx, span := otel.StartServerSpan(r.Context(), s.cfg.Tracer, r.Method+" "+route,
				otel.AttrHTTPRoute.String(route))
			defer span.End()
			r = r.WithContext(ctx)
		}
		start := time.Now()
		h(w, r)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RequestDuration.Record(r.Context(), time.Since(start).Seconds(),
				metric.WithAttributes(otel.AttrHTTPRoute.String(route)))
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	journalOK := true
	if s.cfg.Journal != nil {
		if _, err := s.cfg.Journal.Recent(r.Context(), "healthz-probe", 1); err != nil {
			journalOK = false
		}
	}
	stats := s.cfg.Manager.Stats()
	status := http.StatusOK
	if !journalOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy":            journalOK,
		"journal_ok":         journalOK,
		"agent_count":        len(s.cfg.Registry.List()),
		"queue_depth":        stats.QueueDepth,
		"active_tasks":       stats.ActiveTasks,
		"config_fingerprint": s.cfg.ConfigFingerprint,
	})
}

// createTaskRequest is the POST /api/tasks body.
type createTaskRequest struct {
	AgentID     string                 `json:"agentId,omitempty"`
	Query       string                 `json:"query"`
	Priority    int                    `json:"priority,omitempty"`
	Params      map[string]interface{} `json:"params,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CallbackURL string                 `json:"callbackUrl,omitempty"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createTask(w, r)
	case http.MethodGet:
		s.listTasks(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	// Input schemas are enforced here at the edge; the manager treats
	// params as an opaque payload. An unknown explicit agentId falls
	// through so the manager can report it as not found.
	targetID := req.AgentID
	if targetID == "" {
		capability, _ := req.Params["capability"].(string)
		if id, ok := s.cfg.Registry.Route(req.Query, agent.RouteParams{Capability: capability}); ok {
			targetID = id
		}
	}
	if _, ok := s.cfg.Registry.Get(targetID); ok {
		if err := s.cfg.Registry.ValidateInput(targetID, task.HandlerPayload(req.Query, req.Params)); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	proj, err := s.cfg.Manager.CreateTask(r.Context(), task.CreateInput{
		AgentID:     req.AgentID,
		Query:       req.Query,
		Priority:    req.Priority,
		Params:      req.Params,
		Metadata:    req.Metadata,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
		span.SetAttributes(otel.AttrTaskID.String(proj.ID), otel.AttrAgentID.String(proj.AgentID))
	}
	writeJSON(w, http.StatusAccepted, proj)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	f := task.Filter{
		Status:  task.Status(r.URL.Query().Get("status")),
		AgentID: r.URL.Query().Get("agentId"),
		Limit:   20,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}
	tasks := s.cfg.Manager.ListTasks(f)
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "total": len(tasks)})
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "task id required")
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		t, ok := s.cfg.Manager.GetTask(r.Context(), id)
		if !ok {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeJSON(w, http.StatusOK, t)
	case sub == "" && r.Method == http.MethodDelete:
		t, err := s.cfg.Manager.CancelTask(r.Context(), id)
		if err != nil {
			s.writeTaskError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	case sub == "events" && r.Method == http.MethodGet:
		s.taskEvents(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// taskEvents serves the journal trail for one task.
func (s *Server) taskEvents(w http.ResponseWriter, r *http.Request, id string) {
	if s.cfg.Journal == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := s.cfg.Journal.Recent(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.cfg.Registry.List()})
}

// setStatusRequest is the POST /api/agents/{id}/status body.
type setStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleAgentByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "agent id required")
		return
	}

	switch {
	case sub == "card" && r.Method == http.MethodGet:
		reg, ok := s.cfg.Registry.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeJSON(w, http.StatusOK, reg.Card)
	case sub == "status" && r.Method == http.MethodPost:
		var req setStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.cfg.Registry.SetStatus(id, agent.Status(req.Status)); err != nil {
			if errors.Is(err, agent.ErrUnknownAgent) {
				writeError(w, http.StatusNotFound, err.Error())
			} else {
				writeError(w, http.StatusBadRequest, err.Error())
			}
			return
		}
		reg, _ := s.cfg.Registry.Get(id)
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": reg.Status})
	case sub == "" && r.Method == http.MethodGet:
		reg, ok := s.cfg.Registry.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeJSON(w, http.StatusOK, agent.Snapshot{Card: reg.Card, Status: reg.Status, Health: reg.Health})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Manager.Stats())
}

// writeTaskError maps manager errors onto HTTP status codes.
func (s *Server) writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, task.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("gateway: internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
