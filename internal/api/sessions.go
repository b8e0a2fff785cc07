package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sensecraft-core/internal/session"
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.manager.Statuses(r.Context())
	if err != nil {
		s.logger.Error("listing sessions", "error", err)
		writeInternalError(w, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": statuses,
		"count":    len(statuses),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.manager.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleReloadSession rebuilds the session from its stored entry. A setup
// failure is recorded on the entry and mapped to an error response.
func (s *Server) handleReloadSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	log := s.logger.With("entry_id", id, "subject", subject(r.Context()))

	if err := s.manager.Reload(r.Context(), id); err != nil {
		log.Warn("session reload failed", "error", err)
		writeSessionError(w, err)
		return
	}
	log.Info("session reloaded")

	st, err := s.manager.Status(r.Context(), id)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSessionCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var cmd session.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if cmd.Action == "" {
		writeBadRequest(w, "action is required")
		return
	}

	result, err := s.manager.Command(r.Context(), id, cmd)
	if err != nil {
		s.logger.Warn("session command failed",
			"entry_id", id,
			"action", cmd.Action,
			"subject", subject(r.Context()),
			"error", err,
		)
		writeSessionError(w, err)
		return
	}
	if result == nil {
		result = map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"action": cmd.Action,
		"result": result,
	})
}
