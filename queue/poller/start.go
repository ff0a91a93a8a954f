package poller

import (
	"context"

	"inviqa/layer-hook-relay/config"
	"inviqa/layer-hook-relay/log"
	"inviqa/layer-hook-relay/queue"
	"inviqa/layer-hook-relay/queue/processor"
)

// Start polls the hook queue and runs WriteConcurrency consumers over the
// claimed batches until ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, repo queue.Repository, c processor.Coordinator) {
	log.Logger.WithField("config", cfg).Info("starting hook queue polling")

	batchCh := make(chan *queue.Batch, cfg.WriteConcurrency)
	go New(repo, batchCh).Poll(ctx, cfg.GetPollIntervalDurationInMs())

	consumer := processor.NewBatchConsumer(repo, c, cfg.GetBatchTimeout())
	for i := 0; i < cfg.WriteConcurrency; i++ {
		go consumer.ListenAndProcess(ctx, batchCh)
	}
}
