// Package api provides HTTP handlers for the tripdesk API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/tripdesk/internal/config"
	"github.com/ashureev/tripdesk/internal/conversation"
	"github.com/ashureev/tripdesk/internal/identity"
	"github.com/ashureev/tripdesk/internal/middleware"
	"github.com/ashureev/tripdesk/internal/session"
	"github.com/ashureev/tripdesk/internal/store"
	"github.com/ashureev/tripdesk/internal/transport"
	"github.com/go-chi/chi/v5"
)

const defaultMaxRequestBodySize = 1 << 20

// Deps are the collaborators the handlers need.
type Deps struct {
	Repo     store.Repository
	Sessions *session.Registry
	Backend  transport.Transport
	Config   *config.Config
	Limiter  *middleware.RateLimiter
	Logger   *slog.Logger
}

// Handler serves the conversation, preference and event endpoints.
type Handler struct {
	repo     store.Repository
	sessions *session.Registry
	backend  transport.Transport
	cfg      *config.Config
	limiter  *middleware.RateLimiter
	log      *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Limiter == nil {
		d.Limiter = middleware.NewRateLimiter(d.Config.RateLimit.RequestsPerWindow, d.Config.RateLimit.WindowDuration, d.Config.SessionTTL)
	}
	return &Handler{
		repo:     d.Repo,
		sessions: d.Sessions,
		backend:  d.Backend,
		cfg:      d.Config,
		limiter:  d.Limiter,
		log:      d.Logger,
	}
}

// RegisterRoutes registers the API routes. The identity middleware must run
// before them.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Get("/me", h.GetMe)
		r.Put("/preferences", h.UpdatePreferences)
		r.Get("/health", h.Health)

		r.Get("/state", h.GetState)
		r.Get("/events", h.HandleEvents)
		r.Delete("/error", h.ClearError)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.ListConversations)
			r.Post("/", h.CreateConversation)
			r.Put("/active", h.SetActiveConversation)
			r.Delete("/{id}", h.DeleteConversation)
			r.Post("/{id}/history", h.LoadHistory)
		})

		r.With(middleware.RateLimit(h.limiter, customerKey)).Post("/messages", h.SendMessage)
	})
}

func customerKey(r *http.Request) string {
	return identity.CustomerIDFromContext(r.Context())
}

// storeFor returns the conversation store of the calling tab.
func (h *Handler) storeFor(r *http.Request) (*conversation.Store, bool) {
	c := identity.CustomerFromContext(r.Context())
	if c == nil {
		return nil, false
	}
	return h.sessions.Get(c.CustomerID, identity.SessionIDFromContext(r.Context()), c.Language), true
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into v, writing the error response
// itself when it fails.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	limit := int64(defaultMaxRequestBodySize)
	if h.cfg != nil && h.cfg.SSE.MaxRequestBodySize > 0 {
		limit = h.cfg.SSE.MaxRequestBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			Error(w, http.StatusBadRequest, "request body is empty")
		default:
			Error(w, http.StatusBadRequest, "invalid request body")
		}
		return false
	}
	return true
}
