package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/JaimeStill/tally/internal/config"
	"github.com/JaimeStill/tally/internal/infrastructure"
	"github.com/JaimeStill/tally/pkg/storage"
)

func getHealth(t *testing.T, h http.Handler, path string) (int, health) {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))

	var p health
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec.Code, p
}

func TestHealthEndpoints(t *testing.T) {
	cfg := &config.Config{Version: "test"}
	cfg.Store.Driver = config.DriverMemory
	cfg.Storage.Provider = storage.ProviderLocal
	cfg.Storage.Root = t.TempDir()
	cfg.Scheduler.LockBackend = config.LockLocal

	infra, err := infrastructure.NewWithLogger(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("infrastructure: %v", err)
	}
	router := buildRouter(infra, cfg.Version)

	code, p := getHealth(t, router, "/healthz")
	if code != http.StatusOK || p.Version != "test" {
		t.Errorf("healthz = %d %+v", code, p)
	}

	code, p = getHealth(t, router, "/readyz")
	if code != http.StatusServiceUnavailable || p.Subsystems["startup"] {
		t.Errorf("readyz before startup = %d %+v", code, p)
	}

	if err := infra.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	infra.Lifecycle.WaitForStartup()
	t.Cleanup(func() { infra.Lifecycle.Shutdown(time.Second) })

	code, p = getHealth(t, router, "/readyz")
	if code != http.StatusOK || p.Status != "ready" {
		t.Errorf("readyz after startup = %d %+v", code, p)
	}
}
