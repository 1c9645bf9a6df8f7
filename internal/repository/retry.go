package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/example/broscore/internal/retrier"
)

// executeWithRetry runs fn under the repository's retry policy. ErrNotFound
// is returned as is so callers can compare against it directly.
func (r *LeaderboardRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	err := r.retry.Run(ctx, operation, requestID, fn)
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// isTransientStoreError adds SQLite busy/locked and Postgres
// serialization, deadlock and startup errors to the generic checks.
func isTransientStoreError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "57P03":
			return true
		}
		return false
	}

	return retrier.IsTransient(err)
}
