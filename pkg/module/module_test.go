package module_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JaimeStill/tally/pkg/module"
)

func TestNewPrefix(t *testing.T) {
	tests := []struct {
		prefix    string
		wantPanic bool
	}{
		{"/api", false},
		{"", true},
		{"api", true},
		{"/api/v1", true},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			defer func() {
				if r := recover(); (r != nil) != tt.wantPanic {
					t.Errorf("panic = %v, want %v", r, tt.wantPanic)
				}
			}()
			m := module.New(tt.prefix, http.NewServeMux())
			if m.Prefix() != tt.prefix {
				t.Errorf("Prefix = %s", m.Prefix())
			}
		})
	}
}

func TestRouter(t *testing.T) {
	var innerPath string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tasks", func(w http.ResponseWriter, r *http.Request) {
		innerPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		innerPath = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	})

	api := module.New("/api", mux)
	used := 0
	api.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			used++
			next.ServeHTTP(w, r)
		})
	})

	router := module.NewRouter()
	router.Mount(api)
	router.HandleNative("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name      string
		path      string
		wantCode  int
		wantInner string
	}{
		{"module route", "/api/tasks", http.StatusOK, "/tasks"},
		{"trailing slash trimmed", "/api/tasks/", http.StatusOK, "/tasks"},
		{"module root", "/api", http.StatusAccepted, "/"},
		{"native fallback", "/healthz", http.StatusNoContent, ""},
		{"unknown", "/missing", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			innerPath = ""
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if innerPath != tt.wantInner {
				t.Errorf("inner path = %q, want %q", innerPath, tt.wantInner)
			}
		})
	}

	if used != 3 {
		t.Errorf("module middleware ran %d times, want 3", used)
	}
}

func TestMountDuplicatePrefix(t *testing.T) {
	router := module.NewRouter()
	router.Mount(module.New("/api", http.NewServeMux()))

	defer func() {
		if recover() == nil {
			t.Error("second mount on /api did not panic")
		}
	}()
	router.Mount(module.New("/api", http.NewServeMux()))
}
