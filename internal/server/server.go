// Package server exposes the framework's status over HTTP: health,
// plugin and cycle status, learning statistics, deployment history, and
// prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigilops/vigil/pkg/deploy"
	"github.com/vigilops/vigil/pkg/learning"
	"github.com/vigilops/vigil/pkg/monitor"
)

// Server serves the read-only status API.
type Server struct {
	httpServer *http.Server
	registry   *monitor.Registry
	scheduler  *monitor.Scheduler
	engine     *learning.Engine
	deployer   *deploy.Engine
	logger     *slog.Logger
	started    time.Time
}

func New(addr string, registry *monitor.Registry, scheduler *monitor.Scheduler, engine *learning.Engine, deployer *deploy.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		registry:  registry,
		scheduler: scheduler,
		engine:    engine,
		deployer:  deployer,
		logger:    logger,
		started:   time.Now(),
	}

	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/learning/stats", s.handleLearningStats).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/learning/models", s.handleModels).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/problems", s.handleProblems).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/deployments", s.handleDeployments).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writing response failed", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"uptime_seconds": time.Since(s.started).Seconds(),
		"plugins":        s.registry.Status(),
	}
	if s.scheduler != nil {
		status["history_size"] = s.scheduler.History().Len()
		status["problems_observed"] = s.scheduler.Problems().Len()
	}
	if s.deployer != nil {
		status["active_deployments"] = s.deployer.ActiveCount()
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleLearningStats(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "learning disabled"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "learning disabled"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.Models())
}

func (s *Server) handleProblems(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "monitoring disabled"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.scheduler.Problems().All())
}

func (s *Server) handleDeployments(w http.ResponseWriter, r *http.Request) {
	if s.deployer == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "deployment disabled"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.deployer.Records())
}
