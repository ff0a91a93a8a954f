package kafka

import (
	"context"
	"fmt"
	"time"

	"inviqa/layer-hook-relay/hook"
	"inviqa/layer-hook-relay/log"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type coordinator interface {
	ProcessBatch(ctx context.Context, records []hook.Record) hook.BatchOutcome
}

type redelivery interface {
	Redeliver(msg *sarama.ConsumerMessage, cause error) error
}

// BatchHandler is a sarama.ConsumerGroupHandler that collects the messages of
// a claim into batches of up to batchSize, or whatever arrived within
// flushInterval, and hands them to the coordinator. Failed records are
// republished before the batch offset is marked.
type BatchHandler struct {
	coordinator   coordinator
	redeliverer   redelivery
	batchSize     int
	flushInterval time.Duration
	batchTimeout  time.Duration
}

func NewBatchHandler(c coordinator, r redelivery, batchSize int, flushInterval, batchTimeout time.Duration) *BatchHandler {
	if batchSize < 1 {
		batchSize = 1
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}

	return &BatchHandler{
		coordinator:   c,
		redeliverer:   r,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		batchTimeout:  batchTimeout,
	}
}

func (h *BatchHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *BatchHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *BatchHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ticker := time.NewTicker(h.flushInterval)
	defer ticker.Stop()

	pending := make([]*sarama.ConsumerMessage, 0, h.batchSize)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		err := h.process(sess, pending)
		pending = pending[:0]
		return err
	}

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return flush()
			}
			pending = append(pending, msg)
			if len(pending) >= h.batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		case <-sess.Context().Done():
			// unmarked messages are consumed again by the next owner of the claim
			return nil
		}
	}
}

func (h *BatchHandler) process(sess sarama.ConsumerGroupSession, msgs []*sarama.ConsumerMessage) error {
	ctx := sess.Context()
	if h.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.batchTimeout)
		defer cancel()
	}

	records := make([]hook.Record, len(msgs))
	for i, m := range msgs {
		records[i] = hook.Record{ID: RecordID(m), Body: m.Value}
	}

	out := h.coordinator.ProcessBatch(ctx, records)

	if err := sess.Context().Err(); err != nil {
		log.Logger.WithField("records", len(msgs)).Info("session ended while processing, leaving the batch unmarked")
		return nil
	}

	for _, o := range out.Failures() {
		if err := h.redeliverer.Redeliver(msgs[o.Index], o.Err); err != nil {
			return errors.Wrap(err, "kafka: unable to hand over failed hook record, batch will be consumed again")
		}
	}

	last := msgs[len(msgs)-1]
	sess.MarkMessage(last, "")

	log.Logger.WithFields(logrus.Fields{
		"topic":     last.Topic,
		"partition": last.Partition,
		"offset":    last.Offset,
		"succeeded": out.Succeeded(),
		"failed":    len(out.Failures()),
	}).Info("hook batch processed")

	return nil
}

// RecordID identifies a message by its position in the log.
func RecordID(m *sarama.ConsumerMessage) string {
	return fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
}
