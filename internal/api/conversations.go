package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/tripdesk/internal/conversation"
	"github.com/ashureev/tripdesk/internal/identity"
	"github.com/ashureev/tripdesk/internal/transport"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// GetState returns the calling tab's full conversation state.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	s, ok := h.storeFor(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	JSON(w, http.StatusOK, s.Snapshot())
}

// ListConversations returns the conversations matching ?q=, newest first.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	s, ok := h.storeFor(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"conversations": s.Search(r.URL.Query().Get("q")),
	})
}

// CreateConversation starts an empty conversation and makes it active.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.storeFor(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	JSON(w, http.StatusCreated, s.CreateConversation())
}

type setActiveRequest struct {
	ID string `json:"id"`
}

// SetActiveConversation repoints the active conversation. An empty id clears it.
func (h *Handler) SetActiveConversation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.storeFor(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req setActiveRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	s.SetActiveConversation(strings.TrimSpace(req.ID))
	JSON(w, http.StatusOK, s.Snapshot())
}

// DeleteConversation removes a conversation. Unknown ids succeed.
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.storeFor(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	s.DeleteConversation(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// LoadHistory imports a backend-held transcript and makes it active.
func (h *Handler) LoadHistory(w http.ResponseWriter, r *http.Request) {
	s, ok := h.storeFor(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id := chi.URLParam(r, "id")
	conv, err := s.LoadHistory(r.Context(), id)
	if err != nil {
		status, msg := historyFailure(err)
		slog.Warn("Failed to load conversation history",
			"conversation_id", id,
			"customer_id", identity.CustomerIDFromContext(r.Context()),
			"error", err)
		Error(w, status, msg)
		return
	}
	JSON(w, http.StatusOK, conv)
}

func historyFailure(err error) (int, string) {
	te := transport.AsError(err)
	switch te.Kind {
	case transport.KindServerError:
		if te.Status == http.StatusNotFound {
			return http.StatusNotFound, "conversation not found"
		}
		return http.StatusBadGateway, "assistant returned an error"
	case transport.KindNetworkUnreachable:
		return http.StatusServiceUnavailable, "assistant unreachable"
	default:
		return http.StatusInternalServerError, "failed to load history"
	}
}

type sendMessageRequest struct {
	Content string `json:"content"`
	// Async returns 202 at once; the outcome arrives on the event stream.
	Async bool `json:"async"`
}

type sendMessageResponse struct {
	Turn  conversation.Turn  `json:"turn"`
	State conversation.State `json:"state"`
}

// SendMessage runs one turn on the active conversation. The turn outlives
// the request: a client that disconnects still gets the reply applied.
// Transport failures are reported inside the state, never as HTTP errors.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.storeFor(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req sendMessageRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	ctx := context.WithoutCancel(r.Context())
	reqID := chiMiddleware.GetReqID(r.Context())
	customerID := identity.CustomerIDFromContext(r.Context())

	if strings.TrimSpace(req.Content) == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	slog.Info("Chat message received",
		"customer_id", customerID,
		"session_id", identity.SessionIDFromContext(r.Context()),
		"message_length", len(req.Content),
		"request_id", reqID,
		"async", req.Async,
	)

	if req.Async {
		go func() {
			turn, _ := s.SendMessage(ctx, req.Content)
			logTurn(turn, customerID, reqID)
		}()
		JSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
		return
	}

	turn, _ := s.SendMessage(ctx, req.Content)
	logTurn(turn, customerID, reqID)
	JSON(w, http.StatusOK, sendMessageResponse{Turn: turn, State: s.Snapshot()})
}

func logTurn(turn conversation.Turn, customerID, reqID string) {
	slog.Info("Chat turn completed",
		"customer_id", customerID,
		"conversation_id", turn.ConversationID,
		"working_id", turn.WorkingID,
		"failed", turn.Failed,
		"dropped", turn.Dropped,
		"agent", turn.Reply.AgentType,
		"processing_time_ms", turn.Reply.ProcessingTimeMs,
		"request_id", reqID,
	)
}

// ClearError dismisses the error banner.
func (h *Handler) ClearError(w http.ResponseWriter, r *http.Request) {
	c := identity.CustomerFromContext(r.Context())
	if c == nil {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	// A tab without a session has no error to clear.
	if s, ok := h.sessions.Lookup(c.CustomerID, identity.SessionIDFromContext(r.Context())); ok {
		s.ClearError()
	}
	w.WriteHeader(http.StatusNoContent)
}
