// Package infrastructure assembles the shared systems every engine component
// depends on: logging, persistence, blob storage, the task lock, and mail.
package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JaimeStill/tally/internal/config"
	"github.com/JaimeStill/tally/internal/mail"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/internal/store/postgres"
	"github.com/JaimeStill/tally/pkg/database"
	"github.com/JaimeStill/tally/pkg/lifecycle"
	"github.com/JaimeStill/tally/pkg/lock"
	"github.com/JaimeStill/tally/pkg/storage"
)

const redisPingTimeout = 5 * time.Second

// Infrastructure holds the systems shared by the engine and the API.
// Database is nil for the memory store, Redis is nil for the local lock,
// and Mail is nil when no mail servers are configured.
type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	Database  database.System
	Store     store.Store
	Storage   storage.System
	Locker    lock.Locker
	Redis     *redis.Client
	Mail      *mail.Client

	cfg        *config.Config
	redisReady atomic.Bool
}

// New builds every system from configuration without starting any of them.
func New(cfg *config.Config) (*Infrastructure, error) {
	return NewWithLogger(cfg, slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

// NewWithLogger is New with a caller-supplied logger.
func NewWithLogger(cfg *config.Config, logger *slog.Logger) (*Infrastructure, error) {
	infra := &Infrastructure{
		Lifecycle: lifecycle.New(),
		Logger:    logger,
		cfg:       cfg,
	}

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := database.New(&cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("database init failed: %w", err)
		}
		infra.Database = db
		infra.Store = postgres.New(db.Connection(), logger)
	case config.DriverMemory:
		infra.Store = store.NewMemory()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	blobs, err := storage.New(&cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}
	infra.Storage = blobs

	switch cfg.Scheduler.LockBackend {
	case config.LockRedis:
		infra.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		infra.Locker = lock.NewRedis(infra.Redis, cfg.Redis.KeyPrefix, cfg.Scheduler.LockTTLDuration(), logger)
	default:
		infra.Locker = lock.NewLocal()
	}

	if cfg.Mail.Enabled() {
		infra.Mail = mail.New(&cfg.Mail, logger)
	}

	return infra, nil
}

// Transport returns the mail transport, or nil when mail is disabled.
func (i *Infrastructure) Transport() mail.Transport {
	if i.Mail == nil {
		return nil
	}
	return i.Mail
}

// Start applies pending migrations when configured and registers every
// system with the lifecycle coordinator.
func (i *Infrastructure) Start() error {
	if i.Database != nil {
		if i.cfg.Store.AutoMigrate {
			if err := postgres.Migrate(i.cfg.Database.URL(), i.Logger); err != nil {
				return fmt.Errorf("migrate failed: %w", err)
			}
		}
		if err := i.Database.Start(i.Lifecycle); err != nil {
			return fmt.Errorf("database start failed: %w", err)
		}
	}

	if err := i.Storage.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("storage start failed: %w", err)
	}

	if i.Redis != nil {
		i.startRedis()
	}

	i.Logger.Info(
		"infrastructure started",
		"store", i.cfg.Store.Driver,
		"storage", i.cfg.Storage.Provider,
		"lock", i.cfg.Scheduler.LockBackend,
		"mail", i.Mail != nil,
	)
	return nil
}

// Ready reports whether every configured subsystem is up.
func (i *Infrastructure) Ready() bool {
	for _, ok := range i.Status() {
		if !ok {
			return false
		}
	}
	return true
}

// Status reports readiness per subsystem. Only configured subsystems appear.
func (i *Infrastructure) Status() map[string]bool {
	status := map[string]bool{"startup": i.Lifecycle.Ready()}
	if i.Database != nil {
		status["database"] = i.Database.Ready()
	}
	if i.Redis != nil {
		status["redis"] = i.redisReady.Load()
	}
	return status
}

func (i *Infrastructure) startRedis() {
	logger := i.Logger.With("system", "redis")

	i.Lifecycle.OnStartup(func() {
		ctx, cancel := context.WithTimeout(i.Lifecycle.Context(), redisPingTimeout)
		defer cancel()
		if err := i.Redis.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping failed", "addr", i.cfg.Redis.Addr, "error", err)
			return
		}
		i.redisReady.Store(true)
		logger.Info("redis connection established", "addr", i.cfg.Redis.Addr)
	})

	i.Lifecycle.OnShutdown(func() {
		i.redisReady.Store(false)
		if err := i.Redis.Close(); err != nil {
			logger.Error("redis close failed", "error", err)
		}
	})
}
