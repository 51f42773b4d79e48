package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/tripdesk/internal/domain"
	"github.com/ashureev/tripdesk/internal/shared"
	_ "modernc.org/sqlite"
)

// ErrCustomerNotFound is returned when updating a customer that does not exist.
var ErrCustomerNotFound = errors.New("customer not found")

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if dbPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS customers (
		customer_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		language TEXT NOT NULL,
		theme TEXT NOT NULL DEFAULT 'system',
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_customers_last_seen ON customers(last_seen_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetCustomer retrieves a customer by id.
func (s *SQLiteStore) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	query := `
		SELECT customer_id, display_name, language, theme,
		       last_seen_at, created_at, updated_at
		FROM customers WHERE customer_id = ?`

	row := s.db.QueryRowContext(ctx, query, customerID)

	var c domain.Customer
	var theme string
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(
		&c.CustomerID, &c.DisplayName, &c.Language, &theme,
		&lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan customer row: %w", err)
	}

	c.Theme = domain.Theme(theme)
	c.LastSeenAt = time.Unix(lastSeen, 0)
	c.CreatedAt = time.Unix(createdAt, 0)
	c.UpdatedAt = time.Unix(updatedAt, 0)

	return &c, nil
}

// UpsertCustomer creates a customer or refreshes last_seen_at.
// Preferences of an existing customer are left untouched.
func (s *SQLiteStore) UpsertCustomer(ctx context.Context, c *domain.Customer) error {
	query := `
	INSERT INTO customers (customer_id, display_name, language, theme, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(customer_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	theme := c.Theme
	if theme == "" {
		theme = domain.ThemeSystem
	}

	err := shared.RetryOnConflict(ctx, s.retry, "upsert customer", func() error {
		_, err := s.db.ExecContext(ctx, query,
			c.CustomerID, c.DisplayName, c.Language, string(theme),
			c.LastSeenAt.Unix(), c.CreatedAt.Unix(), c.UpdatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert customer: %w", err)
	}
	return nil
}

// UpdatePreferences applies prefs in one transaction.
func (s *SQLiteStore) UpdatePreferences(ctx context.Context, customerID string, prefs domain.Preferences) (*domain.Customer, error) {
	var updated *domain.Customer
	err := shared.RetryOnConflict(ctx, s.retry, "update preferences", func() error {
		c, err := s.updatePreferencesOnce(ctx, customerID, prefs)
		updated = c
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update preferences for %s: %w", customerID, err)
	}
	return updated, nil
}

func (s *SQLiteStore) updatePreferencesOnce(ctx context.Context, customerID string, prefs domain.Preferences) (*domain.Customer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back preferences update", "error", rbErr)
		}
	}()

	var c domain.Customer
	var theme string
	var lastSeen, createdAt, updatedAt int64
	err = tx.QueryRowContext(ctx, `
		SELECT customer_id, display_name, language, theme, last_seen_at, created_at, updated_at
		FROM customers WHERE customer_id = ?`, customerID,
	).Scan(&c.CustomerID, &c.DisplayName, &c.Language, &theme, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read customer: %w", err)
	}
	c.Theme = domain.Theme(theme)
	c.LastSeenAt = time.Unix(lastSeen, 0)
	c.CreatedAt = time.Unix(createdAt, 0)

	prefs.Apply(&c)
	c.UpdatedAt = time.Now()

	if _, err := tx.ExecContext(ctx, `
		UPDATE customers SET display_name = ?, language = ?, theme = ?, updated_at = ?
		WHERE customer_id = ?`,
		c.DisplayName, c.Language, string(c.Theme), c.UpdatedAt.Unix(), customerID,
	); err != nil {
		return nil, fmt.Errorf("write preferences: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit preferences: %w", err)
	}
	c.UpdatedAt = time.Unix(c.UpdatedAt.Unix(), 0)
	return &c, nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a customer.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, customerID string, lastSeen time.Time) error {
	query := `UPDATE customers SET last_seen_at = ?, updated_at = ? WHERE customer_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), customerID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "customer_id", customerID)
	}

	return nil
}

// DeleteInactiveCustomers removes customers unseen for longer than ttl and
// returns their ids.
func (s *SQLiteStore) DeleteInactiveCustomers(ctx context.Context, ttl time.Duration) ([]string, error) {
	threshold := time.Now().Add(-ttl).Unix()
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM customers WHERE last_seen_at < ? RETURNING customer_id`, threshold)
	if err != nil {
		return nil, fmt.Errorf("delete inactive customers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deleted customer: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delete inactive customers: %w", err)
	}
	return ids, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

var _ Repository = (*SQLiteStore)(nil)
