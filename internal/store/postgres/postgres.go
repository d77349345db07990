// Package postgres implements store.Store on PostgreSQL through database/sql
// and the pgx driver. The schema lives in the embedded migrations.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/pkg/repository"
)

var (
	_ store.Store   = (*Store)(nil)
	_ store.Queries = (*queries)(nil)
)

// Store runs queries against a connection pool and opens transactions on it.
type Store struct {
	*queries
	db *sql.DB
}

// New creates a Store over db.
func New(db *sql.DB, logger *slog.Logger) *Store {
	logger = logger.With("system", "store")
	return &Store{
		queries: &queries{conn: db, logger: logger},
		db:      db,
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(q store.Queries) error) error {
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(&queries{conn: tx, logger: s.logger})
	})
	return repository.MapError(err, repository.Mapping{
		Conflict:    domain.ErrConflict,
		Unavailable: domain.ErrUnavailable,
	})
}

type queries struct {
	conn   repository.Conn
	logger *slog.Logger
}

// mapError translates a driver error and prefixes the entity named by what.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	mapped := repository.MapError(err, repository.Mapping{
		NotFound:    domain.ErrNotFound,
		Duplicate:   domain.ErrDuplicate,
		Conflict:    domain.ErrConflict,
		Unavailable: domain.ErrUnavailable,
	})
	return fmt.Errorf("%s: %w", what, mapped)
}
