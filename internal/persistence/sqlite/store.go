package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/gym-backoffice/internal/persistence"
	"github.com/example/gym-backoffice/internal/persistence/sqlite/migration"
)

// timeLayout is fixed width so TEXT columns compare in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// Store implements persistence.Transactor on top of a ConnectionPool.
type Store struct {
	pool   *ConnectionPool
	retry  *RetryHelper
	locks  *persistence.KeyedLocker
	mapper *ErrorMapper
}

var _ persistence.Transactor = (*Store)(nil)

// NewStore wraps pool. Busy transactions are retried according to retry.
func NewStore(pool *ConnectionPool, retry RetryConfig) *Store {
	return &Store{
		pool:   pool,
		retry:  NewRetryHelper(retry),
		locks:  persistence.NewKeyedLocker(),
		mapper: NewErrorMapper(),
	}
}

// Open connects to the database and returns a ready Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	pool, err := NewConnectionPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewStore(pool, DefaultRetryConfig()), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Ping checks database reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context, logger *slog.Logger) error {
	manager := migration.NewManager(
		migration.NewScanner(migration.Files, "files"),
		migration.NewExecutor(s.pool.DB(), s.pool.Dialect().Rebind),
		logger,
	)
	return manager.Run(ctx)
}

// WithinTransaction implements persistence.Transactor. Keys are locked
// in-process first; on PostgreSQL each key is also taken as a transaction
// scoped advisory lock so several processes serialize on the same resources.
// SQLite connections begin with BEGIN IMMEDIATE, which holds the database
// write lock for the whole transaction.
func (s *Store) WithinTransaction(ctx context.Context, lockKeys []string, fn func(ctx context.Context, tx persistence.Tx) error) error {
	keys := persistence.NormalizeLockKeys(lockKeys)

	release, err := s.locks.Acquire(ctx, keys)
	if err != nil {
		return err
	}
	defer release()

	return s.retry.WithRetry(ctx, func() error {
		return s.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			if s.pool.Dialect() == DialectPostgres {
				for _, key := range keys {
					if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
						return fmt.Errorf("advisory lock %s: %w", key, s.mapper.MapError(err))
					}
				}
			}
			return fn(ctx, &sqlTx{tx: tx, dialect: s.pool.Dialect(), mapper: s.mapper})
		})
	})
}

// UpsertMember inserts or updates a trainer or client identity.
func (s *Store) UpsertMember(ctx context.Context, member persistence.Member) error {
	if member.ID == "" || (member.Kind != persistence.MemberTrainer && member.Kind != persistence.MemberClient) {
		return persistence.ErrConstraintViolation
	}
	now := time.Now().UTC()
	if member.CreatedAt.IsZero() {
		member.CreatedAt = now
	}
	if member.UpdatedAt.IsZero() {
		member.UpdatedAt = now
	}

	const query = `
		INSERT INTO members (kind, id, display_name, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET
			display_name = excluded.display_name,
			active = excluded.active,
			updated_at = excluded.updated_at`

	return s.retry.WithRetry(ctx, func() error {
		return s.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, s.pool.Dialect().Rebind(query),
				string(member.Kind),
				member.ID,
				member.DisplayName,
				boolToInt(member.Active),
				formatTime(member.CreatedAt),
				formatTime(member.UpdatedAt),
			)
			return s.mapper.MapError(err)
		})
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
