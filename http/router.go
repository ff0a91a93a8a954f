package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterConfig struct {
	CheckAddr []string
	DB        Pinger
	Metrics   http.Handler
	// Hooks is only mounted when the relay receives batches over HTTP.
	Hooks http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/healthz", NewHealthzHandler(cfg.CheckAddr, cfg.DB))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	if cfg.Hooks != nil {
		r.Method(http.MethodPost, "/hooks", cfg.Hooks)
	}

	return r
}
