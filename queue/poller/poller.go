package poller

import (
	"context"
	"time"

	"inviqa/layer-hook-relay/log"
	"inviqa/layer-hook-relay/queue"

	"github.com/google/uuid"
)

type Poller interface {
	Poll(ctx context.Context, interval time.Duration)
}

type repository interface {
	GetBatch() (*queue.Batch, error)
	ReleaseBatch(batchId uuid.UUID) error
}

func New(r repository, ch chan<- *queue.Batch) Poller {
	return &queuePoller{
		ch:   ch,
		repo: r,
	}
}

type queuePoller struct {
	ch   chan<- *queue.Batch
	repo repository
}

// Poll claims a batch every interval and hands it to the consumers, until ctx
// is cancelled.
func (p queuePoller) Poll(ctx context.Context, interval time.Duration) {
	for {
		batch, err := p.repo.GetBatch()
		switch {
		case err == queue.ErrNoEvents:
			log.Logger.Debug("no hook records to process")
		case err != nil:
			log.Logger.WithError(err).Error("an unexpected error occurred when polling the hook queue")
		default:
			select {
			case p.ch <- batch:
			case <-ctx.Done():
				p.release(batch)
				return
			}
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return
		}
	}
}

// release returns a batch that was claimed but never handed to a consumer.
func (p queuePoller) release(batch *queue.Batch) {
	logger := log.Logger.WithField("batch_id", batch.Id.String())

	if err := p.repo.ReleaseBatch(batch.Id); err != nil {
		logger.WithError(err).Error("unable to release the claimed batch on shutdown, its records stay claimed until the claim goes stale")
		return
	}

	logger.Info("released the claimed batch on shutdown")
}
