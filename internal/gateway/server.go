// Package gateway exposes the streaming tool-invocation endpoint plus
// health, status, and admin APIs over a single chi router. It binds to
// loopback by default.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/toolgate/toolgate/internal/audit"
	"github.com/toolgate/toolgate/internal/tool"
	"github.com/toolgate/toolgate/internal/transport"
)

// AuditReader is the slice of the audit store the admin API needs.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
}

// Server is the HTTP gateway. It mounts the streaming transport at the
// configured base path and serves health, status, and admin endpoints
// around it.
type Server struct {
	config    Config
	logger    *slog.Logger
	registry  *tool.Registry
	transport *transport.Transport
	metrics   *Metrics
	auditLog  AuditReader

	server    *http.Server
	startedAt time.Time
}

// New builds a gateway server. auditLog may be nil, in which case the
// /api/audit endpoint is not mounted.
func New(cfg Config, registry *tool.Registry, tr *transport.Transport, metrics *Metrics, auditLog AuditReader, logger *slog.Logger) *Server {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Server{
		config:    cfg,
		logger:    logger,
		registry:  registry,
		transport: tr,
		metrics:   metrics,
		auditLog:  auditLog,
	}
}

// buildRouter constructs the chi mux with all routes wired.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public — no auth required.
	r.Get("/health", s.handleHealth())

	// The JSON-RPC endpoint. Clients authenticate per-call through the
	// permission layer, not at the HTTP edge.
	r.Mount(s.config.BasePath, s.transport)

	// Admin endpoints — auth required. Not mounted if no auth configured.
	if s.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(s.config.Auth))
			r.Get("/status", s.handleStatus())
			r.Route("/api", func(r chi.Router) {
				r.Get("/tools", s.handleListTools())
				r.Get("/tools/{name}", s.handleGetTool())
				if s.auditLog != nil {
					r.Get("/audit", s.handleAudit())
				}
			})
		})
	}

	return r
}

// Start validates the bind address, builds the router, and serves in the
// background. It returns once the listener is bound.
func (s *Server) Start() error {
	s.startedAt = time.Now()

	s.server = &http.Server{
		Addr:              s.config.Bind,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", s.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		s.logger.Info("gateway listening", "addr", s.config.Bind, "base_path", s.config.BasePath)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the HTTP server down with the configured timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return errors.New("gateway: shutdown failed: " + err.Error())
	}
	return nil
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Tools       int    `json:"tools"`
	Sessions    int    `json:"sessions"`
	Connections int    `json:"connections"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "ok"}

		if s.registry != nil {
			resp.Tools = len(s.registry.All())
		}
		if s.transport != nil {
			stats := s.transport.Stats()
			resp.Sessions = stats.Sessions
			resp.Connections = stats.Connections
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime   time.Duration   `json:"uptime_seconds"`
	Metrics  MetricsSnapshot `json:"metrics"`
	Sessions int             `json:"sessions"`
	Pending  int             `json:"pending_requests"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			Uptime:  time.Since(s.startedAt).Truncate(time.Second),
			Metrics: s.metrics.Snapshot(),
		}

		if s.transport != nil {
			stats := s.transport.Stats()
			resp.Sessions = stats.Sessions
			resp.Pending = stats.Pending
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// handleListTools returns the catalog, optionally filtered by agent or
// provider query parameters.
func (s *Server) handleListTools() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tools []tool.Tool
		switch {
		case r.URL.Query().Get("agent") != "":
			tools = s.registry.ForAgent(r.URL.Query().Get("agent"))
		case r.URL.Query().Get("provider") != "":
			tools = s.registry.ByProvider(r.URL.Query().Get("provider"))
		default:
			tools = s.registry.All()
		}
		if tools == nil {
			tools = []tool.Tool{}
		}
		writeJSON(w, http.StatusOK, tools)
	}
}

// handleGetTool returns a single tool definition by name.
func (s *Server) handleGetTool() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		t, err := s.registry.Get(name)
		if err != nil {
			http.Error(w, "tool not found: "+name, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

// handleAudit returns the most recent audit entries, newest first.
// The limit query parameter caps the result; default 100, max 1000.
func (s *Server) handleAudit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = min(n, 1000)
		}

		entries, err := s.auditLog.Recent(r.Context(), limit)
		if err != nil {
			s.logger.Error("audit query failed", "error", err)
			http.Error(w, "audit query failed", http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []audit.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
