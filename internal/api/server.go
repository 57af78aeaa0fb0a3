// Package api implements the HTTP front-end: project management,
// message runs, asset transfer, live event streams, and a WebDAV
// mount of the projects root.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-webdav"
	"golang.org/x/crypto/bcrypt"

	"github.com/reelworks/montage/internal/agent"
	"github.com/reelworks/montage/internal/buildinfo"
	"github.com/reelworks/montage/internal/checkpoint"
	"github.com/reelworks/montage/internal/events"
	"github.com/reelworks/montage/internal/notify"
	"github.com/reelworks/montage/internal/opstate"
	"github.com/reelworks/montage/internal/project"
	"github.com/reelworks/montage/internal/skills"
	"github.com/reelworks/montage/internal/usage"
)

// viewNamespace is the opstate namespace for per-project view state.
const viewNamespace = "view"

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Config holds the server's collaborators and settings.
type Config struct {
	Address      string
	Port         int
	Loop         *agent.Loop
	Projects     *project.Store
	Library      *skills.Library
	Checkpoints  *checkpoint.Store
	Usage        *usage.Store
	OpState      *opstate.Store
	Bus          *events.Bus
	Notifier     *notify.Notifier
	PasswordHash string
	Logger       *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	address      string
	port         int
	loop         *agent.Loop
	projects     *project.Store
	library      *skills.Library
	checkpoints  *checkpoint.Store
	usage        *usage.Store
	opstate      *opstate.Store
	bus          *events.Bus
	notifier     *notify.Notifier
	passwordHash string
	logger       *slog.Logger
	server       *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:      cfg.Address,
		port:         cfg.Port,
		loop:         cfg.Loop,
		projects:     cfg.Projects,
		library:      cfg.Library,
		checkpoints:  cfg.Checkpoints,
		usage:        cfg.Usage,
		opstate:      cfg.OpState,
		bus:          cfg.Bus,
		notifier:     cfg.Notifier,
		passwordHash: cfg.PasswordHash,
		logger:       logger.With("component", "api"),
	}
}

// Handler builds the routing table. Split out from Start so tests can
// exercise the mux with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Project management
	mux.HandleFunc("GET /api/projects", s.handleProjectList)
	mux.HandleFunc("POST /api/projects", s.handleProjectCreate)
	mux.HandleFunc("GET /api/projects/{project}", s.handleProjectGet)
	mux.HandleFunc("DELETE /api/projects/{project}", s.handleProjectDelete)

	// Conversation
	mux.HandleFunc("POST /api/projects/{project}/messages", s.handleSendMessage)
	mux.HandleFunc("GET /api/projects/{project}/messages", s.handleTranscript)
	mux.HandleFunc("GET /api/projects/{project}/view", s.handleViewState)

	// File transfer
	mux.HandleFunc("GET /api/projects/{project}/assets", s.handleAssetList)
	mux.HandleFunc("POST /api/projects/{project}/assets", s.handleAssetUpload)
	mux.HandleFunc("GET /api/projects/{project}/assets/{name}", s.handleAssetGet)
	mux.HandleFunc("DELETE /api/projects/{project}/assets/{name}", s.handleAssetDelete)
	mux.HandleFunc("GET /api/projects/{project}/outputs", s.handleOutputList)
	mux.HandleFunc("GET /api/projects/{project}/outputs/{name}", s.handleOutputGet)

	// Live events
	mux.HandleFunc("GET /api/events", s.handleEventsSSE)
	mux.HandleFunc("GET /api/events/ws", s.handleEventsWS)

	mux.HandleFunc("GET /api/usage", s.handleUsage)
	mux.HandleFunc("GET /api/skills", s.handleSkills)

	// WebDAV mount of the whole projects root, so editors can open the
	// workspace directly.
	davHandler := &webdav.Handler{
		FileSystem: webdav.LocalFileSystem(s.projects.Root()),
	}
	mux.Handle("/dav/", http.StripPrefix("/dav", davHandler))

	return s.withLogging(s.withAuth(mux))
}

// Start begins serving HTTP requests and blocks until the listener
// fails or Shutdown is called. The view-state recorder runs for the
// lifetime of ctx.
func (s *Server) Start(ctx context.Context) error {
	go s.recordViewState(ctx)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE and WebSocket connections stay open
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// withAuth enforces bearer auth against the configured bcrypt hash.
// No hash configured means auth is disabled. /healthz stays open for
// load balancers either way.
func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.passwordHash == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r)
		if token == "" {
			s.errorResponse(w, http.StatusUnauthorized, "authorization required")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(token)); err != nil {
			s.errorResponse(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the bearer credential from the Authorization
// header, or from the access_token query parameter for clients that
// cannot set headers (SSE from a browser).
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":  "healthy",
		"version": buildinfo.String(),
		"uptime":  buildinfo.Uptime().String(),
	}, s.logger)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage ledger not configured")
		return
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid start time: "+err.Error())
			return
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid end time: "+err.Error())
			return
		}
		end = t
	}

	var grouped any
	var err error
	group := r.URL.Query().Get("group")
	switch group {
	case "", "none":
	case "model":
		grouped, err = s.usage.SummaryByModel(start, end)
	case "role":
		grouped, err = s.usage.SummaryByRole(start, end)
	case "project":
		grouped, err = s.usage.SummaryByProject(start, end)
	default:
		s.errorResponse(w, http.StatusBadRequest, "unsupported group: "+group)
		return
	}
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}

	total, err := s.usage.Summary(start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}

	resp := map[string]any{
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
		"total": total,
	}
	if grouped != nil {
		resp["groups"] = grouped
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	if s.library == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "skills not configured")
		return
	}

	discovered := s.library.Discover()
	type skillInfo struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Activation  string `json:"activation,omitempty"`
		Path        string `json:"path"`
	}
	infos := make([]skillInfo, 0, len(discovered))
	for _, sk := range discovered {
		infos = append(infos, skillInfo{
			Name:        sk.Name,
			Description: sk.Description,
			Activation:  sk.Activation,
			Path:        sk.Path,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"skills":  infos,
		"count":   len(infos),
		"catalog": skills.RenderCatalog(discovered),
	}, s.logger)
}

// recordViewState subscribes to the bus and persists the latest view
// request per project, so a UI reconnecting after the event streamed
// past can still show what the agent wanted on screen.
func (s *Server) recordViewState(ctx context.Context) {
	if s.bus == nil || s.opstate == nil {
		return
	}
	ch := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.Kind != events.KindView || e.Project == "" {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if err := s.opstate.Set(viewNamespace, e.Project, string(data)); err != nil {
				s.logger.Warn("persist view state failed", "project", e.Project, "error", err)
			}
		}
	}
}

func (s *Server) handleViewState(w http.ResponseWriter, r *http.Request) {
	if s.opstate == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "state store not configured")
		return
	}
	name := r.PathValue("project")
	raw, err := s.opstate.Get(viewNamespace, name)
	if err != nil {
		s.logger.Error("view state read failed", "project", name, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "state read failed")
		return
	}
	if raw == "" {
		s.errorResponse(w, http.StatusNotFound, "no view state for project")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, raw)
}
