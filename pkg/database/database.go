// Package database provides PostgreSQL connection management with lifecycle coordination.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/JaimeStill/tally/pkg/lifecycle"
	"github.com/JaimeStill/tally/pkg/retry"
)

// ErrNotReady indicates the database connection has not been established.
var ErrNotReady = errors.New("database not ready")

// System manages database connections and lifecycle coordination.
type System interface {
	// Connection returns the underlying database connection pool.
	Connection() *sql.DB
	// Start registers startup and shutdown hooks with the lifecycle coordinator.
	Start(lc *lifecycle.Coordinator) error
	// Ready reports whether the startup ping succeeded.
	Ready() bool
	// Check pings the database, returning ErrNotReady when it cannot be reached.
	Check(ctx context.Context) error
}

type database struct {
	conn        *sql.DB
	logger      *slog.Logger
	connTimeout time.Duration
	connect     retry.Policy
	ready       atomic.Bool
}

// New opens a pgx-backed pool and applies the pool limits. No connection is
// made until Start's startup hook pings the server.
func New(cfg *Config, logger *slog.Logger) (System, error) {
	db, err := sql.Open("pgx", cfg.Dsn())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetimeDuration())

	return &database{
		conn:        db,
		logger:      logger.With("system", "database"),
		connTimeout: cfg.ConnTimeoutDuration(),
		connect: retry.Policy{
			MaxAttempts: cfg.ConnectAttempts,
			Backoff:     500 * time.Millisecond,
			MaxBackoff:  5 * time.Second,
		},
	}, nil
}

func (d *database) Connection() *sql.DB {
	return d.conn
}

func (d *database) Ready() bool {
	return d.ready.Load()
}

func (d *database) Check(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, d.connTimeout)
	defer cancel()

	if err := d.conn.PingContext(pingCtx); err != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return nil
}

// Start pings the server on startup, retrying while it comes up, and closes
// the pool once the coordinator's context is cancelled.
func (d *database) Start(lc *lifecycle.Coordinator) error {
	lc.OnStartup(func() {
		result := retry.Do(lc.Context(), d.connect, func(ctx context.Context, attempt int) error {
			err := d.Check(ctx)
			if err != nil {
				d.logger.Warn("database ping failed", "attempt", attempt, "error", err)
			}
			return err
		})
		if err := result.Err(); err != nil {
			d.logger.Error("database unreachable", "attempts", result.Attempts, "error", err)
			return
		}

		d.ready.Store(true)
		d.logger.Info("database connection established", "attempts", result.Attempts)
	})

	lc.OnShutdown(func() {
		d.ready.Store(false)

		if err := d.conn.Close(); err != nil {
			d.logger.Error("database close failed", "error", err)
			return
		}
		d.logger.Info("database connection closed")
	})

	return nil
}
