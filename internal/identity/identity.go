// Package identity provides anonymous per-browser customer identity.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/tripdesk/internal/domain"
	"github.com/ashureev/tripdesk/internal/i18n"
	"github.com/ashureev/tripdesk/internal/store"
)

const (
	CustomerCookieName    = "tripdesk_customer"
	SessionHeaderName     = "X-Tripdesk-Session-ID"
	DefaultSessionIDValue = "default"
	customerCookieMaxAge  = 30 * 24 * time.Hour

	// lastSeenGranularity limits last_seen_at writes to one per customer per period.
	lastSeenGranularity = time.Hour
)

type contextKey int

const (
	customerKey contextKey = iota
	sessionIDKey
)

var (
	customerIDPattern = regexp.MustCompile(`^cust_[a-f0-9]{32}$`)
	sessionIDPattern  = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// CustomerFromContext returns the customer resolved by Middleware.
func CustomerFromContext(ctx context.Context) *domain.Customer {
	if v, ok := ctx.Value(customerKey).(*domain.Customer); ok {
		return v
	}
	return nil
}

// CustomerIDFromContext extracts the customer ID from the request context.
func CustomerIDFromContext(ctx context.Context) string {
	if c := CustomerFromContext(ctx); c != nil {
		return c.CustomerID
	}
	return ""
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// WithCustomer returns ctx carrying customer and sessionID.
func WithCustomer(ctx context.Context, customer *domain.Customer, sessionID string) context.Context {
	ctx = context.WithValue(ctx, customerKey, customer)
	return context.WithValue(ctx, sessionIDKey, sanitizeSessionID(sessionID))
}

func generateCustomerID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate customer id: %w", err)
	}
	return "cust_" + hex.EncodeToString(buf), nil
}

func isValidCustomerID(id string) bool {
	return customerIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func deriveDisplayName(customerID string) string {
	if len(customerID) > 13 {
		return "guest-" + customerID[len(customerID)-6:]
	}
	return "guest"
}

// ensureCustomer loads the customer, creating it on first visit with the
// browser's preferred language.
func ensureCustomer(ctx context.Context, repo store.Repository, customerID, acceptLanguage, defaultLanguage string) (*domain.Customer, error) {
	c, err := repo.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if c != nil {
		if now.Sub(c.LastSeenAt) > lastSeenGranularity {
			if err := repo.UpdateLastSeen(ctx, customerID, now); err != nil {
				slog.Warn("Failed to refresh customer last seen", "customer_id", customerID, "error", err)
			} else {
				c.LastSeenAt = now
			}
		}
		return c, nil
	}

	lang := defaultLanguage
	if strings.TrimSpace(acceptLanguage) != "" {
		lang = acceptLanguage
	}
	c = &domain.Customer{
		CustomerID:  customerID,
		DisplayName: deriveDisplayName(customerID),
		Language:    i18n.Normalize(lang),
		Theme:       domain.ThemeSystem,
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.UpsertCustomer(ctx, c); err != nil {
		return nil, err
	}
	slog.Info("Customer created", "customer_id", customerID, "language", c.Language)
	return c, nil
}

func setCustomerCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CustomerCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(customerCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(customerCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateCustomerID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(CustomerCookieName); err == nil && isValidCustomerID(c.Value) {
		setCustomerCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateCustomerID()
	if err != nil {
		return "", err
	}
	setCustomerCookie(w, id, isDev)
	return id, nil
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// Middleware resolves the anonymous customer and the per-tab session ID.
func Middleware(repo store.Repository, defaultLanguage string, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			customerID, err := getOrCreateCustomerID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish customer identity"}`, http.StatusInternalServerError)
				return
			}

			customer, err := ensureCustomer(r.Context(), repo, customerID, r.Header.Get("Accept-Language"), defaultLanguage)
			if err != nil {
				slog.Error("Failed to initialize customer", "customer_id", customerID, "error", err)
				http.Error(w, `{"error":"failed to initialize customer"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithCustomer(r.Context(), customer, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
