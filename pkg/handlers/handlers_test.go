package handlers_test

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/JaimeStill/tally/pkg/handlers"
)

func TestRespondJSON(t *testing.T) {
	tests := []struct {
		name   string
		status int
		data   any
	}{
		{"200 with map", http.StatusOK, map[string]string{"status": "ok"}},
		{"201 with struct", http.StatusCreated, struct{ ID int }{ID: 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handlers.RespondJSON(rec, tt.status, tt.data)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content-type = %s", ct)
			}
			var parsed map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
		})
	}
}

func TestRespondError(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	rec := httptest.NewRecorder()

	handlers.RespondError(rec, logger, http.StatusConflict, errors.New("task run already in progress"))

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	var parsed map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if parsed["error"] != "task run already in progress" {
		t.Errorf("error = %q", parsed["error"])
	}
}

func TestRespondFile(t *testing.T) {
	rec := httptest.NewRecorder()
	handlers.RespondFile(rec, "Fall2025_summary.xlsx", "application/octet-stream", []byte("abc"))

	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="Fall2025_summary.xlsx"` {
		t.Errorf("Content-Disposition = %s", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "3" {
		t.Errorf("Content-Length = %s", got)
	}
	if rec.Body.String() != "abc" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", `{"name":"Fall2025"}`, false},
		{"unknown field", `{"name":"x","extra":1}`, true},
		{"malformed", `{`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.input))
			var v body
			err := handlers.DecodeJSON(req, &v)
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeJSON error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"`+strings.Repeat("x", 64)+`"}`))
	req.Body = http.MaxBytesReader(rec, req.Body, 16)

	var v struct {
		Name string `json:"name"`
	}
	err := handlers.DecodeJSON(req, &v)
	if got := handlers.DecodeStatus(err); got != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized status = %d, want 413", got)
	}

	err = handlers.DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`)), &v)
	if got := handlers.DecodeStatus(err); got != http.StatusBadRequest {
		t.Errorf("malformed status = %d, want 400", got)
	}
}
