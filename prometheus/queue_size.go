package prometheus

import (
	"context"
	"time"

	"inviqa/layer-hook-relay/log"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var hookQueueSize prom.Gauge

type queueSizer interface {
	GetQueueSize() (uint, error)
}

func init() {
	hookQueueSize = promauto.NewGauge(prom.GaugeOpts{
		Name: "layer_hook_queue_size",
		Help: "The number of hook records waiting to be pushed to their layer",
	})
}

func ObserveQueueSize(ctx context.Context, sizer queueSizer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		size, err := sizer.GetQueueSize()
		if err != nil {
			log.Logger.WithError(err).Error("an error occurred determining the size of the hook queue")
		} else {
			hookQueueSize.Set(float64(size))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
