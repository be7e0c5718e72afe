// Package api provides HTTP handlers and the main API server logic for CareFlow.
//
// It exposes RESTful endpoints for conversation turns, nudge sweeps, and
// thread inspection. The API integrates with the workflow engine, the
// nudge trigger engine, and the store.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/CareFlow/internal/models"
	"github.com/BTreeMap/CareFlow/internal/nudge"
	"github.com/BTreeMap/CareFlow/internal/store"
	"github.com/BTreeMap/CareFlow/internal/workflow"
)

// Server timeouts.
const (
	// DefaultTurnTimeout bounds one conversation turn end to end.
	DefaultTurnTimeout = 30 * time.Second
	// DefaultSweepTimeout bounds a manually triggered nudge sweep.
	DefaultSweepTimeout = 2 * time.Minute
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Server wires the workflow engine, nudge engine, and store behind HTTP.
type Server struct {
	engine *workflow.Engine
	nudges *nudge.Engine
	st     store.Store

	httpServer *http.Server
}

// NewServer creates the API server. Call Run to start serving.
func NewServer(engine *workflow.Engine, nudges *nudge.Engine, st store.Store, addr string) *Server {
	s := &Server{engine: engine, nudges: nudges, st: st}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat", s.chatHandler)
	mux.HandleFunc("/nudges/sweep", s.sweepHandler)
	mux.HandleFunc("/threads/", s.threadHandler)
	mux.HandleFunc("/health", s.healthHandler)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the server's mux, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: CareFlow API listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server.Run: graceful shutdown failed", "error", err)
			return err
		}
		return nil
	}
}

// clientError reports whether an engine error is the caller's fault.
func clientError(err error) bool {
	return errors.Is(err, models.ErrEmptyThreadID) ||
		errors.Is(err, models.ErrEmptyUserID) ||
		errors.Is(err, models.ErrEmptyUserInput) ||
		errors.Is(err, models.ErrUserInputTooLong)
}
