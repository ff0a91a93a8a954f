package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRouter(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name    string
		cfg     RouterConfig
		method  string
		path    string
		expCode int
	}{
		{name: "healthz", cfg: RouterConfig{}, method: http.MethodGet, path: "/healthz", expCode: http.StatusOK},
		{name: "metrics", cfg: RouterConfig{Metrics: ok}, method: http.MethodGet, path: "/metrics", expCode: http.StatusTeapot},
		{name: "hooks", cfg: RouterConfig{Hooks: ok}, method: http.MethodPost, path: "/hooks", expCode: http.StatusTeapot},
		{name: "hooks not mounted", cfg: RouterConfig{}, method: http.MethodPost, path: "/hooks", expCode: http.StatusNotFound},
		{name: "hooks only accept POST", cfg: RouterConfig{Hooks: ok}, method: http.MethodGet, path: "/hooks", expCode: http.StatusMethodNotAllowed},
		{name: "database down", cfg: RouterConfig{DB: &mockPinger{error: true}}, method: http.MethodGet, path: "/healthz", expCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			NewRouter(tt.cfg).ServeHTTP(recorder, httptest.NewRequest(tt.method, tt.path, strings.NewReader("")))

			if recorder.Code != tt.expCode {
				t.Errorf("expected %d response code, but got %d", tt.expCode, recorder.Code)
			}
		})
	}
}
