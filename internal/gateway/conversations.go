package gateway

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/lorekeep/lorekeep/internal/agent"
	"github.com/lorekeep/lorekeep/internal/auth"
	"github.com/lorekeep/lorekeep/internal/convstore"
	"github.com/lorekeep/lorekeep/pkg/models"
)

// handleListConversations lists conversations, filtered by query params:
// world_id, user_id, mode, limit, offset.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := convstore.ListOptions{
		UserID: q.Get("user_id"),
	}
	if modeStr := q.Get("mode"); modeStr != "" {
		mode, err := models.ParseMode(modeStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Mode = mode
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = limit
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		opts.Offset = offset
	}

	worldID := q.Get("world_id")
	if user, ok := auth.UserFromContext(r.Context()); ok && !user.CanAccessWorld(worldID) {
		writeError(w, http.StatusForbidden, "credential does not grant access to this world")
		return
	}

	conversations, err := s.store.List(r.Context(), worldID, opts)
	if err != nil {
		s.logger.Error(r.Context(), "failed to list conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

// handleGetConversation returns one conversation with its full message
// history, including any PendingAction so a reconnecting client can
// recover a paused approval.
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, convstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.logger.Error(r.Context(), "failed to load conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// handleDeleteConversation deletes a conversation. Deletion goes through
// the session layer so it cannot race an in-flight generation.
func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.sessions.Reset(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, agent.ErrConversationBusy):
			writeError(w, http.StatusConflict, "a generation is running for this conversation")
		case errors.Is(err, convstore.ErrNotFound):
			writeError(w, http.StatusNotFound, "conversation not found")
		default:
			s.logger.Error(r.Context(), "failed to delete conversation", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
