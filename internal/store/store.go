// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/tripdesk/internal/domain"
)

// Repository persists customers and their preferences. Conversations are
// never stored.
type Repository interface {
	// GetCustomer retrieves a customer by id. It returns nil, nil when absent.
	GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error)

	// UpsertCustomer creates a customer or refreshes its profile fields.
	UpsertCustomer(ctx context.Context, customer *domain.Customer) error

	// UpdatePreferences applies the set preference fields and returns the result.
	UpdatePreferences(ctx context.Context, customerID string, prefs domain.Preferences) (*domain.Customer, error)

	// UpdateLastSeen updates the last_seen_at timestamp for a customer.
	UpdateLastSeen(ctx context.Context, customerID string, lastSeen time.Time) error

	// DeleteInactiveCustomers removes customers unseen for longer than ttl
	// and returns their ids.
	DeleteInactiveCustomers(ctx context.Context, ttl time.Duration) ([]string, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
