package kafka

import (
	"io"
	"strconv"

	"inviqa/layer-hook-relay/hook"
	"inviqa/layer-hook-relay/log"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	HeaderReceiveCount  = "x-hook-receive-count"
	HeaderFailureReason = "x-hook-failure-reason"
)

type Redeliverer interface {
	io.Closer
	Redeliver(msg *sarama.ConsumerMessage, cause error) error
}

// redeliverer republishes failed hook records: retriable ones to the retry
// topic until they were received maxReceives times, everything else to the
// dead letter topic.
type redeliverer struct {
	producer        sarama.SyncProducer
	retryTopic      string
	deadLetterTopic string
	maxReceives     int
}

func NewRedeliverer(kafkaHost []string, cfg *sarama.Config, retryTopic, deadLetterTopic string, maxReceives int) Redeliverer {
	return NewRedelivererWithProducer(newProducer(cfg, kafkaHost), retryTopic, deadLetterTopic, maxReceives)
}

func NewRedelivererWithProducer(prod sarama.SyncProducer, retryTopic, deadLetterTopic string, maxReceives int) Redeliverer {
	return &redeliverer{
		producer:        prod,
		retryTopic:      retryTopic,
		deadLetterTopic: deadLetterTopic,
		maxReceives:     maxReceives,
	}
}

func newProducer(cfg *sarama.Config, kafkaHosts []string) sarama.SyncProducer {
	producer, err := sarama.NewSyncProducer(kafkaHosts, cfg)
	if err != nil {
		log.Logger.Panicf("could not start kafka producer: %s", err)
	}

	return producer
}

func (r *redeliverer) Redeliver(msg *sarama.ConsumerMessage, cause error) error {
	received := receiveCount(msg) + 1

	topic := r.retryTopic
	if !hook.Retriable(cause) || (r.maxReceives > 0 && received >= r.maxReceives) {
		topic = r.deadLetterTopic
	}

	logger := log.Logger.WithFields(logrus.Fields{
		"source_topic": msg.Topic,
		"partition":    msg.Partition,
		"offset":       msg.Offset,
		"received":     received,
		"reason":       hook.Reason(cause),
	})

	if topic == "" {
		logger.WithError(cause).Error("dropping failed hook record, no dead letter topic is configured")
		return nil
	}

	pm := &sarama.ProducerMessage{
		Topic:   topic,
		Headers: redeliveryHeaders(msg, received, hook.Reason(cause)),
		Value:   sarama.ByteEncoder(msg.Value),
	}
	if msg.Key != nil {
		pm.Key = sarama.ByteEncoder(msg.Key)
	}

	partition, offset, err := r.producer.SendMessage(pm)
	if err != nil {
		return errors.Wrapf(err, "kafka: republishing record %s/%d/%d to %s", msg.Topic, msg.Partition, msg.Offset, topic)
	}

	logger.Debugf("republished failed hook record (topic: %s, partition: %d, offset: %d)", topic, partition, offset)

	return nil
}

func (r *redeliverer) Close() error {
	return r.producer.Close()
}

// receiveCount is the number of earlier failed deliveries of msg.
func receiveCount(msg *sarama.ConsumerMessage) int {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == HeaderReceiveCount {
			n, err := strconv.Atoi(string(h.Value))
			if err != nil || n < 0 {
				return 0
			}
			return n
		}
	}
	return 0
}

func redeliveryHeaders(msg *sarama.ConsumerMessage, received int, reason string) []sarama.RecordHeader {
	headers := make([]sarama.RecordHeader, 0, len(msg.Headers)+2)
	for _, h := range msg.Headers {
		if h == nil {
			continue
		}
		if k := string(h.Key); k == HeaderReceiveCount || k == HeaderFailureReason {
			continue
		}
		headers = append(headers, *h)
	}

	return append(headers,
		sarama.RecordHeader{Key: []byte(HeaderReceiveCount), Value: []byte(strconv.Itoa(received))},
		sarama.RecordHeader{Key: []byte(HeaderFailureReason), Value: []byte(reason)},
	)
}
