package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/tripdesk/internal/conversation"
	"github.com/ashureev/tripdesk/internal/identity"
)

const (
	defaultSSERetry     = 5 * time.Second
	defaultSSEKeepalive = 15 * time.Second
)

// HandleEvents streams the calling tab's state over SSE. Every event is a
// full snapshot whose id is the state version. A client reconnecting with
// Last-Event-ID equal to the current version is not sent the state again.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	c := identity.CustomerFromContext(r.Context())
	if c == nil {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID := identity.SessionIDFromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	lastEventID := uint64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseUint(idHeader, 10, 64); err == nil {
			lastEventID = parsed
		}
	}

	s, release := h.sessions.Acquire(c.CustomerID, sessionID, c.Language)
	defer release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	retry, keepaliveInterval := defaultSSERetry, defaultSSEKeepalive
	if h.cfg != nil {
		retry, keepaliveInterval = h.cfg.SSE.RetryDelay, h.cfg.SSE.KeepaliveInterval
	}
	if _, err := fmt.Fprintf(w, "retry: %d\n\n", retry.Milliseconds()); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err, "customer_id", c.CustomerID)
		return
	}
	connected, _ := json.Marshal(map[string]any{"status": "connected", "session_id": sessionID})
	if err := writeSSE(w, "connected", string(connected)); err != nil {
		return
	}
	flusher.Flush()

	states := s.Subscribe(r.Context())

	slog.Info("Event stream connected",
		"customer_id", c.CustomerID,
		"session_id", sessionID,
		"reconnect", lastEventID > 0,
		"subscribers", s.Subscribers(),
	)
	defer slog.Info("Event stream disconnected", "customer_id", c.CustomerID, "session_id", sessionID)
	first := true

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case st, open := <-states:
			if !open {
				return
			}
			skip := first && lastEventID != 0 && st.Version == lastEventID
			first = false
			if skip {
				continue
			}
			if err := writeState(w, st); err != nil {
				slog.Warn("failed to write SSE state event", "error", err, "customer_id", c.CustomerID)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				slog.Debug("failed to write SSE keepalive ping", "error", err, "customer_id", c.CustomerID)
				return
			}
			flusher.Flush()
		}
	}
}

func writeState(w io.Writer, st conversation.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return writeSSEWithID(w, st.Version, "state", string(data))
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id uint64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
