package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/tripdesk/internal/domain"
	"github.com/ashureev/tripdesk/internal/i18n"
	"github.com/ashureev/tripdesk/internal/identity"
	"github.com/ashureev/tripdesk/internal/store"
)

const (
	maxDisplayNameLength = 64
	healthTimeout        = 5 * time.Second
)

// GetMe returns the current customer's profile.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	c := identity.CustomerFromContext(r.Context())
	if c == nil {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"customer_id":  c.CustomerID,
		"display_name": c.DisplayName,
		"language":     c.Language,
		"theme":        c.Theme,
		"session_id":   identity.SessionIDFromContext(r.Context()),
		"created_at":   c.CreatedAt,
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"mode":             h.cfg.TransportMode(),
		"voice_enabled":    h.cfg.VoiceAvailable(),
		"languages":        i18n.Supported(),
		"default_language": i18n.Normalize(h.cfg.DefaultLanguage),
		"turn_policy":      h.cfg.Policy(),
		"sse_retry_ms":     h.cfg.SSE.RetryDelay.Milliseconds(),
		"voice": map[string]interface{}{
			"sample_rate":         h.cfg.Voice.SampleRate,
			"silence_threshold":   h.cfg.Voice.SilenceThreshold,
			"silence_duration_ms": h.cfg.Voice.SilenceDuration.Milliseconds(),
		},
	})
}

type preferencesRequest struct {
	DisplayName *string `json:"display_name"`
	Language    *string `json:"language"`
	Theme       *string `json:"theme"`
}

// UpdatePreferences stores the customer's display name, language and theme.
// A language change applies to every open tab of the customer.
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	customerID := identity.CustomerIDFromContext(r.Context())
	if customerID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req preferencesRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	var prefs domain.Preferences
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name == "" || utf8.RuneCountInString(name) > maxDisplayNameLength {
			Error(w, http.StatusBadRequest, "display_name must be 1-64 characters")
			return
		}
		prefs.DisplayName = &name
	}
	if req.Language != nil {
		lang := i18n.Normalize(*req.Language)
		prefs.Language = &lang
	}
	if req.Theme != nil {
		theme, ok := domain.ParseTheme(strings.TrimSpace(*req.Theme))
		if !ok {
			Error(w, http.StatusBadRequest, "theme must be light, dark or system")
			return
		}
		prefs.Theme = &theme
	}

	updated, err := h.repo.UpdatePreferences(r.Context(), customerID, prefs)
	if err != nil {
		if errors.Is(err, store.ErrCustomerNotFound) {
			Error(w, http.StatusNotFound, "customer not found")
			return
		}
		slog.Error("Failed to update preferences", "error", err, "customer_id", customerID)
		Error(w, http.StatusInternalServerError, "failed to update preferences")
		return
	}

	if prefs.Language != nil {
		h.sessions.SetLanguage(customerID, updated.Language)
	}
	slog.Info("Preferences updated", "customer_id", customerID, "language", updated.Language, "theme", updated.Theme)
	JSON(w, http.StatusOK, updated)
}

// Health reports database and backend liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	backend := h.backend.FetchHealth(ctx)

	dbStatus := "ok"
	if err := h.repo.Ping(ctx); err != nil {
		slog.Warn("Database ping failed", "error", err)
		dbStatus = "unavailable"
	}

	status, code := "ok", http.StatusOK
	switch {
	case dbStatus != "ok":
		status, code = "unavailable", http.StatusServiceUnavailable
	case !backend.Healthy:
		status = "degraded"
	}

	JSON(w, code, map[string]interface{}{
		"status":   status,
		"mode":     h.cfg.TransportMode(),
		"database": dbStatus,
		"backend":  backend,
	})
}
