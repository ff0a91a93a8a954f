package prometheus

import (
	"time"

	"inviqa/layer-hook-relay/hook"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sinkSuccess      prom.Counter
	sinkFailure      *prom.CounterVec
	dispatchAttempts *prom.CounterVec
	batchDuration    prom.Histogram
)

func init() {
	sinkSuccess = promauto.NewCounter(prom.CounterOpts{
		Name: "layer_hook_sink_success_total",
		Help: "Records whose feature was written to the remote layer",
	})
	sinkFailure = promauto.NewCounterVec(prom.CounterOpts{
		Name: "layer_hook_sink_failure_total",
		Help: "Records reported back to the queue as failed, by reason",
	}, []string{"reason"})
	dispatchAttempts = promauto.NewCounterVec(prom.CounterOpts{
		Name: "layer_hook_dispatch_attempts_total",
		Help: "Dispatch attempts by event kind and result; abandoned and token_expired attempts sent no request",
	}, []string{"event_kind", "result"})
	batchDuration = promauto.NewHistogram(prom.HistogramOpts{
		Name:    "layer_hook_batch_duration_seconds",
		Help:    "Time taken to process one batch of queue records",
		Buckets: prom.ExponentialBuckets(0.05, 2, 10),
	})
}

func ObserveOutcome(o hook.Outcome) {
	if o.Success() {
		sinkSuccess.Inc()
		return
	}
	sinkFailure.WithLabelValues(hook.Reason(o.Err)).Inc()
}

func ObserveDispatchAttempt(kind hook.EventKind, result string) {
	dispatchAttempts.WithLabelValues(kind.String(), result).Inc()
}

func ObserveBatchDuration(d time.Duration) {
	batchDuration.Observe(d.Seconds())
}
