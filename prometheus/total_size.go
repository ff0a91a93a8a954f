package prometheus

import (
	"context"
	"time"

	"inviqa/layer-hook-relay/log"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var hookTotalSize prom.Gauge

type totalSizer interface {
	GetTotalSize() (uint, error)
}

func init() {
	hookTotalSize = promauto.NewGauge(prom.GaugeOpts{
		Name: "layer_hook_queue_total_size",
		Help: "The total number of rows in the hook queue table, including completed and errored ones",
	})
}

func ObserveTotalSize(ctx context.Context, sizer totalSizer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		size, err := sizer.GetTotalSize()
		if err != nil {
			log.Logger.WithError(err).Error("an error occurred determining the total size of the hook queue")
		} else {
			hookTotalSize.Set(float64(size))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
