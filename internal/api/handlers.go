package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/CareFlow/internal/models"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
	Message  string `json:"message"`
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.chatHandler: processing chat request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.chatHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	// The thread defaults to the user's primary thread.
	if req.ThreadID == "" {
		req.ThreadID = req.UserID
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultTurnTimeout)
	defer cancel()

	result, err := s.engine.ProcessTurn(ctx, req.ThreadID, req.UserID, req.Message)
	if err != nil {
		if clientError(err) {
			slog.Warn("Server.chatHandler: invalid turn input", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.chatHandler: turn processing failed", "error", err, "threadID", req.ThreadID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process turn"))
		return
	}

	slog.Info("Server.chatHandler: turn processed", "threadID", req.ThreadID, "traceID", result.TraceID)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

func (s *Server) sweepHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.sweepHandler: processing sweep request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.sweepHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultSweepTimeout)
	defer cancel()

	dispatched, err := s.nudges.Sweep(ctx)
	if err != nil {
		slog.Error("Server.sweepHandler: sweep failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Sweep failed"))
		return
	}

	slog.Info("Server.sweepHandler: sweep completed", "dispatched", len(dispatched))
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Sweep completed", map[string]interface{}{
		"dispatched": len(dispatched),
		"nudges":     dispatched,
	}))
}

func (s *Server) threadHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.threadHandler: processing thread request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.threadHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	threadID := strings.TrimPrefix(r.URL.Path, "/threads/")
	if threadID == "" || strings.Contains(threadID, "/") {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing or invalid thread id"))
		return
	}

	thread, err := s.st.LoadThread(threadID)
	if err != nil {
		slog.Error("Server.threadHandler: failed to load thread", "error", err, "threadID", threadID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load thread"))
		return
	}
	if thread == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Thread not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(thread))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}
