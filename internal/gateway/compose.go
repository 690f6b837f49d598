package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/lorekeep/lorekeep/internal/agent"
	"github.com/lorekeep/lorekeep/internal/auth"
	"github.com/lorekeep/lorekeep/internal/convstore"
	"github.com/lorekeep/lorekeep/pkg/models"
)

type composeRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message"`
	Mode           string `json:"mode,omitempty"`
	PersonaID      string `json:"personaId,omitempty"`
	Provider       string `json:"provider,omitempty"`
	Model          string `json:"model,omitempty"`

	Context struct {
		WorldID     string `json:"worldId,omitempty"`
		StoryID     string `json:"storyId,omitempty"`
		BeatID      string `json:"beatId,omitempty"`
		CharacterID string `json:"characterId,omitempty"`
		LocationID  string `json:"locationId,omitempty"`
	} `json:"context"`
}

type approveRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Approved       bool   `json:"approved"`
}

// handleCompose starts a generation run and streams its events. Session
// errors are rejected before the stream opens; once streaming begins,
// failures arrive as terminal error events.
func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	var req composeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	// An omitted mode keeps the conversation's current mode, or the
	// configured default for a new conversation.
	var mode models.Mode
	if req.Mode != "" {
		parsed, err := models.ParseMode(req.Mode)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		mode = parsed
	}

	begin := agent.BeginRequest{
		ConversationID: req.ConversationID,
		WorldID:        req.Context.WorldID,
		Mode:           mode,
		PersonaID:      req.PersonaID,
		Provider:       req.Provider,
		Model:          req.Model,
		Input:          req.Message,
		Context: models.ComposeContext{
			WorldID:     req.Context.WorldID,
			StoryID:     req.Context.StoryID,
			BeatID:      req.Context.BeatID,
			CharacterID: req.Context.CharacterID,
			LocationID:  req.Context.LocationID,
		},
	}
	if user, ok := auth.UserFromContext(r.Context()); ok {
		begin.UserID = user.ID
		if !user.CanAccessWorld(req.Context.WorldID) {
			writeError(w, http.StatusForbidden, "credential does not grant access to this world")
			return
		}
	}

	stream, err := s.sessions.Begin(r.Context(), begin)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	s.streamEvents(w, r, stream)
}

// handleApprove resolves a pending action and streams the resumed cycle.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConversationID == "" || req.MessageID == "" {
		writeError(w, http.StatusBadRequest, "conversationId and messageId are required")
		return
	}

	stream, err := s.sessions.Resolve(r.Context(), req.ConversationID, req.MessageID, req.Approved, models.ComposeContext{})
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	s.streamEvents(w, r, stream)
}

func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, agent.ErrConversationBusy):
		writeError(w, http.StatusConflict, "a generation is already running for this conversation")
	case errors.Is(err, agent.ErrNoPendingAction), errors.Is(err, convstore.ErrNotFound), errors.Is(err, convstore.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, agent.ErrPendingMismatch):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, agent.ErrNoProvider):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(r.Context(), "session request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// streamEvents forwards a generation stream to the client as SSE, with
// heartbeat comments between events. A client disconnect cancels the
// request context, which stops the engine from invoking further tools.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, stream *agent.Stream) {
	enc, err := NewEncoder(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	heartbeat := newTicker(s.config.Assistant.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			if err := enc.Heartbeat(); err != nil {
				return
			}

		case ev, ok := <-stream.Events:
			if !ok {
				return
			}
			if err := enc.WriteEvent(ev); err != nil {
				s.logger.Warn(r.Context(), "stream write failed", "conversation_id", stream.ConversationID, "error", err)
				return
			}
		}
	}
}

func newTicker(d time.Duration) *time.Ticker {
	if d <= 0 {
		d = 15 * time.Second
	}
	return time.NewTicker(d)
}
