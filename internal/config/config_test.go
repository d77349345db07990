package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JaimeStill/tally/internal/config"
)

const baseConfig = `
shutdown_timeout = "20s"

[server]
port = 8080

[database]
name = "tally"
user = "tally"
password = "tally"

[store]
driver = "postgres"

[storage]
provider = "local"
root = "data/blobs"

[mail]
imap_addr = "imap.school.test:993"
smtp_addr = "smtp.school.test:587"
username = "registrar@school.test"
from = "registrar@school.test"

[scheduler]
task_interval = "1m"
lock_backend = "redis"

[redis]
addr = "redis:6379"

[api.pagination]
default_page_size = 25
max_page_size = 50
`

const overlayConfig = `
[server]
port = 9090

[scheduler]
auto_reaggregate = false
`

func writeConfig(t *testing.T, dir, filename, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", filename, err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, config.BaseConfigFile, baseConfig)
	t.Chdir(dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"server port", cfg.Server.Port, 8080},
		{"server addr", cfg.Server.Addr(), "0.0.0.0:8080"},
		{"idle timeout default", cfg.Server.IdleTimeoutDuration(), 120 * time.Second},
		{"shutdown timeout", cfg.ShutdownTimeoutDuration(), 20 * time.Second},
		{"database host default", cfg.Database.Host, "localhost"},
		{"storage root", cfg.Storage.Root, "data/blobs"},
		{"mail enabled", cfg.Mail.Enabled(), true},
		{"mail mailbox default", cfg.Mail.Mailbox, "INBOX"},
		{"task interval", cfg.Scheduler.TaskIntervalDuration(), time.Minute},
		{"mail interval default", cfg.Scheduler.MailIntervalDuration(), 30 * time.Second},
		{"auto reaggregate default", cfg.Scheduler.Reaggregate(), true},
		{"dispatch retries default", cfg.Scheduler.DispatchMaxRetries, 3},
		{"redis addr", cfg.Redis.Addr, "redis:6379"},
		{"redis prefix default", cfg.Redis.KeyPrefix, "tally:lock:"},
		{"api base path", cfg.API.BasePath, "/api"},
		{"api body limit", cfg.API.MaxBodySizeBytes(), int64(1 << 20)},
		{"page size", cfg.API.Pagination.DefaultPageSize, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}
}

func TestLoadOverlay(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, config.BaseConfigFile, baseConfig)
	writeConfig(t, dir, "config.staging.toml", overlayConfig)
	t.Chdir(dir)
	t.Setenv(config.EnvTallyEnv, "staging")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Env() != "staging" {
		t.Errorf("Env = %s, want staging", cfg.Env())
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want overlay 9090", cfg.Server.Port)
	}
	if cfg.Scheduler.Reaggregate() {
		t.Error("auto_reaggregate = true, want overlay false")
	}
	if cfg.Scheduler.TaskIntervalDuration() != time.Minute {
		t.Errorf("task interval = %v, want base 1m", cfg.Scheduler.TaskIntervalDuration())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, config.BaseConfigFile, baseConfig)
	t.Chdir(dir)

	t.Setenv(config.EnvServerPort, "7070")
	t.Setenv("TALLY_STORE_DRIVER", "memory")
	t.Setenv("TALLY_SCHEDULER_AUTO_REAGGREGATE", "false")
	t.Setenv("TALLY_MAIL_SMTP_ADDR", "relay.school.test:25")
	t.Setenv("TALLY_REDIS_DB", "2")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Store.Driver != config.DriverMemory {
		t.Errorf("driver = %s, want memory", cfg.Store.Driver)
	}
	if cfg.Scheduler.Reaggregate() {
		t.Error("auto_reaggregate not overridden")
	}
	if cfg.Mail.SMTPAddr != "relay.school.test:25" {
		t.Errorf("smtp addr = %s", cfg.Mail.SMTPAddr)
	}
	if cfg.Redis.DB != 2 {
		t.Errorf("redis db = %d, want 2", cfg.Redis.DB)
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "TALLY_VERSION"
	os.Unsetenv(key)
	t.Cleanup(func() { os.Unsetenv(key) })

	dir := t.TempDir()
	writeConfig(t, dir, config.BaseConfigFile, baseConfig)
	writeConfig(t, dir, config.DotEnvFile, key+"=2.1.0\n")
	t.Chdir(dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Version != "2.1.0" {
		t.Errorf("version = %s, want value from .env", cfg.Version)
	}
}

func TestLoadWithoutFiles(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TALLY_STORE_DRIVER", "memory")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Mail.Enabled() {
		t.Error("mail enabled without servers")
	}
	if cfg.Scheduler.LockBackend != config.LockLocal {
		t.Errorf("lock backend = %s, want local", cfg.Scheduler.LockBackend)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"database user required", `[store]
driver = "postgres"`, "user required"},
		{"unknown driver", `[store]
driver = "sqlite"`, "unknown driver"},
		{"bad task interval", `[store]
driver = "memory"
[scheduler]
task_interval = "often"`, "invalid task_interval"},
		{"zero mail interval", `[store]
driver = "memory"
[scheduler]
mail_interval = "0s"`, "mail_interval must be positive"},
		{"unknown lock backend", `[store]
driver = "memory"
[scheduler]
lock_backend = "etcd"`, "unknown lock_backend"},
		{"bad smtp security", `[store]
driver = "memory"
[mail]
smtp_security = "ssl3"`, "invalid smtp_security"},
		{"zero idle timeout", `[store]
driver = "memory"
[server]
idle_timeout = "0s"`, "idle_timeout must be positive"},
		{"port out of range", `[store]
driver = "memory"
[server]
port = 70000`, "invalid port"},
		{"malformed toml", `[store`, "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, config.BaseConfigFile, tt.content)
			t.Chdir(dir)

			_, err := config.Load()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}
