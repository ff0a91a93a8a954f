package prometheus

import (
	"context"
	"time"
)

type Sizer interface {
	GetQueueSize() (uint, error)
	GetTotalSize() (uint, error)
}

// ObserveSizes keeps the queue size gauges current until ctx is cancelled.
func ObserveSizes(ctx context.Context, s Sizer, interval time.Duration) {
	go ObserveQueueSize(ctx, s, interval)
	go ObserveTotalSize(ctx, s, interval)
}
