package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/gym-backoffice/internal/persistence/sqlite"
)

// SQLiteHarness owns a migrated database in a temporary directory, seeded
// with Roster.
type SQLiteHarness struct {
	Store *sqlite.Store

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens, migrates and seeds a fresh database. Close is
// registered with tb.Cleanup.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	ctx := context.Background()
	store, err := sqlite.Open(ctx, sqlite.Config{
		Dialect: sqlite.DialectSQLite,
		DSN:     "file:" + filepath.Join(tb.TempDir(), "gym.db"),
	})
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	if err := store.Migrate(ctx, nil); err != nil {
		_ = store.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	for _, m := range Roster() {
		m.CreatedAt = referenceTime
		m.UpdatedAt = referenceTime
		if err := store.UpsertMember(ctx, m); err != nil {
			_ = store.Close()
			tb.Fatalf("failed to seed member %s: %v", m.ID, err)
		}
	}

	harness := &SQLiteHarness{
		Store:   store,
		cleanup: func() { _ = store.Close() },
	}
	tb.Cleanup(harness.Close)
	return harness
}
