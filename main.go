package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	nr "github.com/newrelic/go-agent/v3/newrelic"

	"inviqa/layer-hook-relay/arcgis"
	"inviqa/layer-hook-relay/config"
	hookprocessor "inviqa/layer-hook-relay/hook/processor"
	h "inviqa/layer-hook-relay/http"
	"inviqa/layer-hook-relay/job"
	"inviqa/layer-hook-relay/kafka"
	"inviqa/layer-hook-relay/log"
	"inviqa/layer-hook-relay/newrelic"
	"inviqa/layer-hook-relay/prometheus"
	"inviqa/layer-hook-relay/queue"
	"inviqa/layer-hook-relay/queue/data"
	"inviqa/layer-hook-relay/queue/poller"
)

const sizeObserveInterval = time.Second

func main() {
	nrApp, stopAgent := newrelic.StartAgent()
	defer stopAgent()

	ctx, cancel := context.WithCancel(context.Background())
	cfg, err := config.NewConfig()
	if err != nil {
		log.Logger.Fatalf("unable to create configuration: %s", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	coord := newCoordinator(cfg, nrApp)

	switch cfg.QueueDriver {
	case config.SQLQueue:
		db, dbClose := data.NewDB(cfg)
		defer dbClose()

		repo := queue.NewRepository(db, cfg)
		if cfg.RunCleanup {
			if exitCode := job.RunCleanup(ctx, nrApp, repo, cfg); exitCode > 0 {
				dbClose() // os.Exit() does not run deferred calls
				os.Exit(exitCode)
			}
			return
		}

		poller.Start(ctx, cfg, repo, coord)
		prometheus.ObserveSizes(ctx, repo, sizeObserveInterval)
		prometheus.StartHttpServer(ctx, cfg, db, nil)
	case config.KafkaQueue:
		kafkaClose := kafka.Start(ctx, cfg, coord)
		defer kafkaClose()

		prometheus.StartHttpServer(ctx, cfg, nil, nil)
	case config.HTTPQueue:
		runHTTPQueue(ctx, cfg, h.NewHooksHandler(coord, cfg.GetBatchTimeout()))
	}
}

func newCoordinator(cfg *config.Config, nrApp *nr.Application) *hookprocessor.Coordinator {
	d := arcgis.NewDispatcher(
		arcgis.NewHTTPClient(cfg.GetRequestTimeout()),
		arcgis.NewRetryPolicy(cfg.DispatchAttempts, cfg.GetBackoffBase(), cfg.GetBackoffMax()),
	)

	return hookprocessor.NewCoordinator(d, cfg.DispatchConcurrency, cfg.GetDeadlineMargin(), nrApp)
}

func runHTTPQueue(ctx context.Context, cfg *config.Config, hooks http.Handler) {
	log.Logger.WithField("config", cfg).Info("accepting hook batches over HTTP")
	prometheus.StartHttpServer(ctx, cfg, nil, hooks)
}
