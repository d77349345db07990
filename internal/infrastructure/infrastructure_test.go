package infrastructure_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/JaimeStill/tally/internal/config"
	"github.com/JaimeStill/tally/internal/infrastructure"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/pkg/storage"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Store.Driver = config.DriverMemory
	cfg.Storage.Provider = storage.ProviderLocal
	cfg.Storage.Root = t.TempDir()
	cfg.Scheduler.LockBackend = config.LockLocal
	return cfg
}

func TestNewMemory(t *testing.T) {
	cfg := memoryConfig(t)
	infra, err := infrastructure.NewWithLogger(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if infra.Database != nil {
		t.Error("Database set for memory driver")
	}
	if _, ok := infra.Store.(*store.Memory); !ok {
		t.Errorf("Store = %T, want *store.Memory", infra.Store)
	}
	if infra.Redis != nil {
		t.Error("Redis client created for local lock")
	}
	if infra.Mail != nil || infra.Transport() != nil {
		t.Error("mail enabled without servers")
	}

	if infra.Ready() {
		t.Error("Ready = true before startup")
	}
	if err := infra.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	infra.Lifecycle.WaitForStartup()
	if !infra.Ready() {
		t.Error("Ready = false after startup")
	}
	if status := infra.Status(); len(status) != 1 || !status["startup"] {
		t.Errorf("Status = %v, want startup only", status)
	}
	if err := infra.Lifecycle.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNewMailEnabled(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Mail.IMAPAddr = "imap.school.test:993"
	cfg.Mail.SMTPAddr = "smtp.school.test:587"

	infra, err := infrastructure.NewWithLogger(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if infra.Transport() == nil {
		t.Error("Transport nil with both servers configured")
	}
}

func TestNewUnknownDriver(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Store.Driver = "sqlite"

	if _, err := infrastructure.NewWithLogger(cfg, slog.New(slog.DiscardHandler)); err == nil {
		t.Error("New succeeded with unknown driver")
	}
}
