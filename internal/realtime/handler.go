package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/tripdesk/internal/identity"
	"github.com/ashureev/tripdesk/internal/session"
	"github.com/ashureev/tripdesk/internal/store"
	"github.com/ashureev/tripdesk/internal/voice"
	"github.com/coder/websocket"
)

// Options configures the voice WebSocket handler.
type Options struct {
	Repo        store.Repository
	Sessions    *session.Registry
	Manager     *SessionManager
	Transcriber voice.Transcriber
	Synthesizer voice.Synthesizer
	Voice       voice.Config
	SampleRate  int
	// Enabled is false when no speech backend is configured.
	Enabled        bool
	AllowedOrigins []string
	IsDev          bool
	Logger         *slog.Logger
}

// VoiceHandler runs one voice loop per WebSocket connection. Closing the
// socket deactivates the loop.
type VoiceHandler struct {
	opts Options
}

// NewVoiceHandler creates a new voice handler.
func NewVoiceHandler(opts Options) *VoiceHandler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Manager == nil {
		opts.Manager = NewSessionManager()
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	return &VoiceHandler{opts: opts}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	customer := identity.CustomerFromContext(r.Context())
	if customer == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if !h.opts.Enabled {
		http.Error(w, `{"error":"voice is not available"}`, http.StatusServiceUnavailable)
		return
	}
	customerID := customer.CustomerID
	sessionID := identity.SessionIDFromContext(r.Context())
	logger := h.opts.Logger.With("customer_id", customerID, "session_id", sessionID)
	logger.Info("Voice connection request", "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "voice ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	h.opts.Manager.Register(customerID, sessionID, ws)
	defer h.opts.Manager.Unregister(customerID, sessionID, ws)

	conv, release := h.opts.Sessions.Acquire(customerID, sessionID, customer.Language)
	defer release()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.touch(customerID)

	conn := newVoiceConn(ws, h.opts.SampleRate, logger)
	ctrl := voice.NewController(voice.Deps{
		Store:       conv,
		Transcriber: h.opts.Transcriber,
		Synthesizer: h.opts.Synthesizer,
		Source:      conn,
		Player:      conn,
		Logger:      logger,
	}, h.opts.Voice)

	var wg sync.WaitGroup
	wg.Add(2)

	// Input loop: WebSocket -> controller.
	go func() {
		defer wg.Done()
		defer conn.shutdown()
		defer cancel()
		h.inputLoop(ctx, ws, conn, ctrl, logger)
	}()

	// Output loop: phases -> WebSocket.
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, conn, ctrl, logger)
	}()

	if err := ctrl.Run(ctx); err != nil {
		logger.Warn("Voice loop failed", "error", err)
	}
	cancel()
	wg.Wait()
	logger.Info("Voice session ended", "last_spoken", ctrl.LastSpoken())
}

func (h *VoiceHandler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigins)
	return false
}

func (h *VoiceHandler) inputLoop(ctx context.Context, ws *websocket.Conn, conn *voiceConn, ctrl *voice.Controller, logger *slog.Logger) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				logger.Debug("WebSocket closed by client")
			} else {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		if typ == websocket.MessageBinary {
			conn.pushFrame(data)
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("Ignoring malformed voice message", "error", err)
			continue
		}

		switch msg.Type {
		case msgStart, msgMicError:
			if msg.Type == msgMicError {
				logger.Warn("Browser microphone unavailable", "message", msg.Message)
			}
			conn.offerStart(msg)
		case msgStop:
			ctrl.StopListening()
		case msgPlaybackEnded:
			conn.playbackEnded()
		case msgPing:
			if err := conn.writeJSON(map[string]string{"type": msgPong}); err != nil {
				logger.Debug("Failed to send pong", "error", err)
			}
		default:
			if err := conn.writeJSON(map[string]string{"type": msgError, "message": "unknown message type"}); err != nil {
				logger.Debug("Failed to send error", "error", err)
			}
		}
	}
}

func (h *VoiceHandler) outputLoop(ctx context.Context, conn *voiceConn, ctrl *voice.Controller, logger *slog.Logger) {
	events := ctrl.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := conn.sendPhase(ev); err != nil {
				if ctx.Err() == nil {
					logger.Debug("Failed to send phase", "phase", ev.Phase, "error", err)
				}
				return
			}
		}
	}
}

// touch records activity asynchronously.
func (h *VoiceHandler) touch(customerID string) {
	if h.opts.Repo == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.opts.Repo.UpdateLastSeen(ctx, customerID, time.Now()); err != nil {
			slog.Warn("Failed to update last seen", "error", err, "customer_id", customerID)
		}
	}()
}
