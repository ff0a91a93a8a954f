package prometheus

import (
	"context"
	"net/http"
	"time"

	"inviqa/layer-hook-relay/config"
	h "inviqa/layer-hook-relay/http"
	"inviqa/layer-hook-relay/log"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

// StartHttpServer serves /metrics, /healthz and, when hooks is not nil, the
// /hooks endpoint. It blocks until ctx is cancelled and the server has shut
// down.
func StartHttpServer(ctx context.Context, cfg *config.Config, db h.Pinger, hooks http.Handler) {
	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: h.NewRouter(h.RouterConfig{
			CheckAddr: cfg.GetDependencySystemAddresses(),
			DB:        db,
			Metrics:   promhttp.Handler(),
			Hooks:     hooks,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Logger.WithError(err).Error("error shutting down the HTTP server")
		}
	}()

	log.Logger.Infof("starting HTTP server on %s", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Logger.Fatalf("failed to start prometheus HTTP server: %s", err)
	}
}
