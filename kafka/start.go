package kafka

import (
	"context"
	"time"

	"inviqa/layer-hook-relay/config"
	"inviqa/layer-hook-relay/log"

	"github.com/Shopify/sarama"
)

const rejoinDelay = 2 * time.Second

// Start joins the consumer group on the hook topic (and the retry topic, when
// it differs) and processes claims until ctx is cancelled. The returned func
// releases the group and the redelivery producer.
func Start(ctx context.Context, cfg *config.Config, c coordinator) func() {
	saramaCfg := NewSaramaConfig(cfg.TLSEnable, cfg.TLSSkipVerifyPeer)

	group, err := sarama.NewConsumerGroup(cfg.KafkaHost, cfg.KafkaGroupID, saramaCfg)
	if err != nil {
		log.Logger.Panicf("could not join kafka consumer group %s: %s", cfg.KafkaGroupID, err)
	}

	red := NewRedeliverer(cfg.KafkaHost, saramaCfg, cfg.GetKafkaRetryTopic(), cfg.KafkaDeadLetterTopic, cfg.MaxReceiveCount)
	handler := NewBatchHandler(c, red, cfg.BatchSize, cfg.GetKafkaFlushInterval(), cfg.GetBatchTimeout())

	topics := []string{cfg.KafkaTopic}
	if rt := cfg.GetKafkaRetryTopic(); rt != cfg.KafkaTopic {
		topics = append(topics, rt)
	}

	go func() {
		for err := range group.Errors() {
			log.Logger.WithError(err).Error("kafka consumer group error")
		}
	}()

	go func() {
		log.Logger.WithField("topics", topics).Info("starting kafka hook consumer")
		for {
			if err := group.Consume(ctx, topics, handler); err != nil {
				log.Logger.WithError(err).Error("kafka consumer group session ended with an error")
				select {
				case <-time.After(rejoinDelay):
				case <-ctx.Done():
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	return func() {
		if err := group.Close(); err != nil {
			log.Logger.WithError(err).Error("error closing kafka consumer group during shutdown")
		}
		if err := red.Close(); err != nil {
			log.Logger.WithError(err).Error("error closing kafka redelivery producer during shutdown")
		}
	}
}
