package processor

import (
	"context"
	"time"

	"inviqa/layer-hook-relay/hook"
	"inviqa/layer-hook-relay/log"
	"inviqa/layer-hook-relay/queue"

	"github.com/sirupsen/logrus"
)

type repository interface {
	CommitBatch(ctx context.Context, batch *queue.Batch)
}

type Coordinator interface {
	ProcessBatch(ctx context.Context, records []hook.Record) hook.BatchOutcome
}

func NewBatchConsumer(r repository, c Coordinator, batchTimeout time.Duration) BatchConsumer {
	return BatchConsumer{
		repo:         r,
		coordinator:  c,
		batchTimeout: batchTimeout,
	}
}

// BatchConsumer runs claimed queue batches through the coordinator and
// commits the per-record outcome back to the queue.
type BatchConsumer struct {
	repo         repository
	coordinator  Coordinator
	batchTimeout time.Duration
}

func (b BatchConsumer) ListenAndProcess(parent context.Context, batches <-chan *queue.Batch) {
	for {
		select {
		case batch := <-batches:
			if batch == nil || len(batch.Messages) == 0 {
				break
			}
			b.process(parent, batch)
		case <-parent.Done():
			return
		}
	}
}

func (b BatchConsumer) process(parent context.Context, batch *queue.Batch) {
	ctx := parent
	if b.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, b.batchTimeout)
		defer cancel()
	}

	out := b.coordinator.ProcessBatch(ctx, batch.Records())
	for _, o := range out.Failures() {
		batch.Messages[o.Index].Fail(o.Err)
	}

	log.Logger.WithFields(logrus.Fields{
		"batch_id":  batch.Id.String(),
		"succeeded": out.Succeeded(),
		"failed":    len(out.Failures()),
	}).Info("hook batch processed")

	// the commit must not be lost to a shutdown that lands mid-batch
	b.repo.CommitBatch(context.WithoutCancel(parent), batch)
}
