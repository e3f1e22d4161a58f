package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"provisioner/internal/ledger"
	"provisioner/internal/orchestrator"
	"provisioner/internal/storage"
)

// Server represents the HTTP API server
// Provides endpoints for provisioning, workflow inspection, Prometheus metrics and health checks
type Server struct {
	httpServer   *http.Server
	mux          *http.ServeMux
	orchestrator *orchestrator.Orchestrator
	repository   storage.Repository
	keyring      ledger.Keyring
	port         int
}

// NewServer creates a new API server instance.
// Requests are signed with the keyring entry matching the organizer address.
func NewServer(port int, orch *orchestrator.Orchestrator, repository storage.Repository, keyring ledger.Keyring) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:        fmt.Sprintf(":%d", port),
			Handler:     mux,
			ReadTimeout: 15 * time.Second,
			// A provisioning request waits for up to six ledger confirmations
			WriteTimeout: 10 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		mux:          mux,
		orchestrator: orch,
		repository:   repository,
		keyring:      keyring,
		port:         port,
	}

	// Register all HTTP routes
	s.registerRoutes()

	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// registerRoutes sets up all HTTP routes
func (s *Server) registerRoutes() {
	// Core endpoints
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", s.handleMetrics())

	// Provisioning
	s.mux.HandleFunc("/events", s.handleEvents)

	// Workflow endpoints
	s.mux.HandleFunc("/workflows", s.handleWorkflows)
	s.mux.HandleFunc("/workflows/", s.handleWorkflowRoutes)
}

// handleEvents routes event provisioning
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.handleProvision(w, r)
}

// handleWorkflows routes to list workflows (without trailing slash)
func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.handleListWorkflows(w, r)
}

// handleWorkflowRoutes routes workflow sub-endpoints (with trailing slash)
func (s *Server) handleWorkflowRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/workflows/")
	parts := strings.Split(path, "/")

	if parts[0] == "" {
		s.sendError(w, "Workflow ID required", http.StatusBadRequest)
		return
	}
	if len(parts) > 2 {
		s.sendError(w, "Endpoint not found", http.StatusNotFound)
		return
	}
	workflowID := parts[0]

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	var method string
	var handler func(http.ResponseWriter, *http.Request, string)

	switch action {
	// GET /workflows/{id}
	case "":
		method, handler = http.MethodGet, s.handleGetWorkflow
	// GET /workflows/{id}/events
	case "events":
		method, handler = http.MethodGet, s.handleGetWorkflowEvents
	// POST /workflows/{id}/resume
	case "resume":
		method, handler = http.MethodPost, s.handleResume
	// POST /workflows/{id}/abandon
	case "abandon":
		method, handler = http.MethodPost, s.handleAbandon
	default:
		s.sendError(w, "Endpoint not found", http.StatusNotFound)
		return
	}

	if r.Method != method {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	handler(w, r, workflowID)
}

// Start starts the HTTP server in a goroutine
// Returns immediately after starting the server
func (s *Server) Start() error {
	go func() {
		slog.Info("API server starting",
			"port", s.port,
			"endpoints", []string{"/", "/health", "/metrics", "/events", "/workflows"},
		)

		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("API server error", "error", err)
		}
	}()

	// Give the server a moment to start
	time.Sleep(100 * time.Millisecond)

	return nil
}

// Shutdown gracefully shuts down the HTTP server
// Waits for active connections to close or context to timeout
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("API server shutting down...")
	return s.httpServer.Shutdown(ctx)
}
