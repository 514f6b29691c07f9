// Package server exposes the HTTP surface: event ingestion, the derived-state
// query API, mutations, the live event stream and webhook fan-out.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/engine"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/output"
)

// maxBodyBytes caps request bodies slightly above the event payload cap so
// envelope overhead never rejects a payload the store would accept.
const maxBodyBytes = 6 << 20

// Server wires the engine, broadcast hub and webhook dispatcher behind one
// http.Handler.
type Server struct {
	engine   *engine.Engine
	sweeper  *engine.Sweeper
	hub      *Hub
	webhooks *WebhookDispatcher
	mux      *http.ServeMux
}

// New constructs a server over an engine. The sweeper is optional; when nil
// the immediate-cleanup endpoint reports unavailable.
func New(e *engine.Engine, sw *engine.Sweeper) *Server {
	s := &Server{
		engine:   e,
		sweeper:  sw,
		hub:      NewHub(),
		webhooks: NewWebhookDispatcher(e.DB()),
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /events", s.handleIngest)
	s.mux.HandleFunc("GET /stream", s.handleStream)

	s.mux.HandleFunc("GET /events/recent", s.handleRecentEvents)

	s.mux.HandleFunc("GET /projects", s.handleListProjects)
	s.mux.HandleFunc("GET /projects/{name}", s.handleProjectDetail)
	s.mux.HandleFunc("GET /projects/{name}/topology", s.handleTopology)
	s.mux.HandleFunc("GET /projects/{name}/metrics", s.handleProjectMetrics)
	s.mux.HandleFunc("GET /projects/{name}/costs", s.handleProjectCosts)

	s.mux.HandleFunc("GET /sessions", s.handleActiveSessions)
	s.mux.HandleFunc("GET /sessions/{app}/{id}/metrics", s.handleSessionMetrics)
	s.mux.HandleFunc("GET /sessions/{app}/{id}/cost", s.handleSessionCost)

	s.mux.HandleFunc("GET /topology", s.handleTopology)

	s.mux.HandleFunc("GET /devlogs", s.handleDevLogs)
	s.mux.HandleFunc("GET /alerts", s.handleAlerts)
	s.mux.HandleFunc("GET /conflicts", s.handleConflicts)
	s.mux.HandleFunc("POST /conflicts/{id}/dismiss", s.handleDismissConflict)

	s.mux.HandleFunc("GET /costs", s.handleCostsByProject)
	s.mux.HandleFunc("GET /costs/daily", s.handleCostsByDay)

	s.mux.HandleFunc("GET /summary/daily/{date}", s.handleDailySummary)
	s.mux.HandleFunc("GET /summary/weekly/{week}", s.handleWeeklySummary)
	s.mux.HandleFunc("GET /search", s.handleSearch)
	s.mux.HandleFunc("GET /heatmap", s.handleHeatmap)
	s.mux.HandleFunc("GET /report", s.handleReport)

	s.mux.HandleFunc("GET /webhooks", s.handleListWebhooks)
	s.mux.HandleFunc("POST /webhooks", s.handleCreateWebhook)
	s.mux.HandleFunc("PUT /webhooks/{id}", s.handleUpdateWebhook)
	s.mux.HandleFunc("DELETE /webhooks/{id}", s.handleDeleteWebhook)
	s.mux.HandleFunc("POST /webhooks/{id}/test", s.handleTestWebhook)

	s.mux.HandleFunc("PUT /settings/retention", s.handleUpdateRetention)
	s.mux.HandleFunc("POST /cleanup", s.handleCleanup)

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
}

// Handler returns the fully wired handler with logging and body limits.
func (s *Server) Handler() http.Handler {
	return s.withMiddleware(s.mux)
}

// Run serves until ctx is done, then shuts down gracefully. The webhook
// delivery worker shares the context lifetime.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.webhooks.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Default().Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
		slog.Default().Info("http request",
			"method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a success envelope with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := output.Write(w, output.Success(data)); err != nil {
		slog.Default().Warn("response encode failed", "error", err)
	}
}

// writeError maps an error to the envelope and a status code: validation
// errors are 400, missing entities 404, everything else 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case models.IsValidationError(err):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	default:
		slog.Default().Error("request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := output.Write(w, output.Error(err)); encErr != nil {
		slog.Default().Warn("error response encode failed", "error", encErr)
	}
}

// queryInt parses an optional positive integer query parameter.
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, models.NewValidationError(key, "must be a positive integer")
	}
	return v, nil
}
