package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/tripdesk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "tripdesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedCustomer(t *testing.T, s *SQLiteStore, id string, lastSeen time.Time) {
	t.Helper()
	require.NoError(t, s.UpsertCustomer(context.Background(), &domain.Customer{
		CustomerID:  id,
		DisplayName: "Guest",
		Language:    "en",
		LastSeenAt:  lastSeen,
		CreatedAt:   lastSeen,
		UpdatedAt:   lastSeen,
	}))
}

func TestCustomerRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetCustomer(ctx, "cust_missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Unix(1_760_000_000, 0)
	seedCustomer(t, s, "cust_a", now)

	got, err = s.GetCustomer(ctx, "cust_a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Guest", got.DisplayName)
	assert.Equal(t, "en", got.Language)
	assert.Equal(t, domain.ThemeSystem, got.Theme)
	assert.True(t, got.LastSeenAt.Equal(now))
}

func TestPreferencesSurviveUpsert(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	seedCustomer(t, s, "cust_b", time.Now())

	lang := "tr"
	theme := domain.ThemeDark
	updated, err := s.UpdatePreferences(ctx, "cust_b", domain.Preferences{Language: &lang, Theme: &theme})
	require.NoError(t, err)
	assert.Equal(t, "tr", updated.Language)
	assert.Equal(t, domain.ThemeDark, updated.Theme)
	assert.Equal(t, "Guest", updated.DisplayName, "unset fields are kept")

	// A later visit refreshes last_seen_at without resetting preferences.
	seedCustomer(t, s, "cust_b", time.Now())
	got, err := s.GetCustomer(ctx, "cust_b")
	require.NoError(t, err)
	assert.Equal(t, "tr", got.Language)
	assert.Equal(t, domain.ThemeDark, got.Theme)
}

func TestUpdatePreferencesUnknownCustomer(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	name := "Ada"
	_, err := s.UpdatePreferences(context.Background(), "cust_nobody", domain.Preferences{DisplayName: &name})
	require.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestDeleteInactiveCustomers(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	seedCustomer(t, s, "cust_old", time.Now().Add(-100*24*time.Hour))
	seedCustomer(t, s, "cust_new", time.Now())

	ids, err := s.DeleteInactiveCustomers(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"cust_old"}, ids)

	old, err := s.GetCustomer(ctx, "cust_old")
	require.NoError(t, err)
	assert.Nil(t, old)

	fresh, err := s.GetCustomer(ctx, "cust_new")
	require.NoError(t, err)
	assert.NotNil(t, fresh)
}

func TestUpdateLastSeen(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	seedCustomer(t, s, "cust_c", time.Unix(1_700_000_000, 0))

	later := time.Unix(1_760_000_000, 0)
	require.NoError(t, s.UpdateLastSeen(ctx, "cust_c", later))
	require.NoError(t, s.UpdateLastSeen(ctx, "cust_unknown", later), "missing rows only warn")

	got, err := s.GetCustomer(ctx, "cust_c")
	require.NoError(t, err)
	assert.True(t, got.LastSeenAt.Equal(later))
	require.NoError(t, s.Ping(ctx))
}
