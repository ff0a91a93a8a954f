package processor

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"inviqa/layer-hook-relay/hook"
	"inviqa/layer-hook-relay/log"
	"inviqa/layer-hook-relay/newrelic"
	"inviqa/layer-hook-relay/prometheus"

	nr "github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type dispatcher interface {
	Dispatch(ctx context.Context, job hook.Job) error
}

func NewCoordinator(d dispatcher, workers int, margin time.Duration, nrApp *nr.Application) *Coordinator {
	if workers < 1 {
		workers = 1
	}

	return &Coordinator{
		dispatcher: d,
		workers:    workers,
		margin:     margin,
		nrApp:      nrApp,
		now:        time.Now,
	}
}

// Coordinator runs every record of a batch through decode, credential check
// and dispatch, isolating the records from each other. It keeps no state
// between batches.
type Coordinator struct {
	dispatcher dispatcher
	workers    int
	margin     time.Duration
	nrApp      *nr.Application
	now        func() time.Time
}

// ProcessBatch returns one outcome per record, in input order. If ctx carries
// a deadline, it is brought forward by the configured margin and records not
// started by then fail with hook.ErrDeadlineExceeded. Records for the same
// feature are dispatched one after another, in input order.
func (c *Coordinator) ProcessBatch(parent context.Context, records []hook.Record) hook.BatchOutcome {
	start := time.Now()

	ctx, txn := newrelic.ContextWithTxn(parent, "processor: Coordinator.ProcessBatch()", c.nrApp)
	defer txn.End()

	if deadline, ok := ctx.Deadline(); ok && c.margin > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline.Add(-c.margin))
		defer cancel()
	}

	outcomes := make([]hook.Outcome, len(records))

	groups := groupByFeature(records)
	work := make(chan []int, len(groups))
	for _, g := range groups {
		work <- g
	}
	close(work)

	workers := c.workers
	if workers > len(groups) {
		workers = len(groups)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for g := range work {
				for _, i := range g {
					outcomes[i] = c.process(ctx, i, records[i])
				}
			}
		}()
	}
	wg.Wait()

	result := hook.BatchOutcome{Outcomes: outcomes}
	for _, o := range outcomes {
		prometheus.ObserveOutcome(o)
		if o.Success() {
			continue
		}

		txn.NoticeError(o.Err)
		log.Logger.WithFields(logrus.Fields{
			"record_id": o.RecordID,
			"reason":    hook.Reason(o.Err),
			"retriable": o.Retriable(),
		}).WithError(o.Err).Warn("hook record failed")
	}

	prometheus.ObserveBatchDuration(time.Since(start))
	log.Logger.WithFields(logrus.Fields{
		"records":   len(records),
		"succeeded": result.Succeeded(),
	}).Debug("hook batch processed")

	return result
}

func (c *Coordinator) process(ctx context.Context, i int, rec hook.Record) (out hook.Outcome) {
	out = hook.Outcome{Index: i, RecordID: rec.ID}

	defer func() {
		if r := recover(); r != nil {
			out.Err = hook.Permanent(errors.Errorf("panic while processing record: %v", r))
		}
	}()

	if err := ctx.Err(); err != nil {
		out.Err = errors.Wrap(hook.ErrDeadlineExceeded, err.Error())
		return out
	}

	job, err := hook.Decode(rec)
	if err != nil {
		out.Err = err
		return out
	}

	if job.Kind == hook.Unknown {
		out.Err = hook.Permanent(errors.Wrapf(hook.ErrUnknownEvent, "%q", job.RawKind))
		return out
	}

	if err := hook.CheckExpiry(job, c.now()); err != nil {
		out.Err = err
		return out
	}

	out.Err = c.dispatcher.Dispatch(ctx, job)
	return out
}

// groupByFeature puts the records that write the same feature of the same
// layer into one group, in input order. The lookup-then-add upsert is not
// atomic, so a group is dispatched by a single worker. Records that do not
// decode get a group of their own.
func groupByFeature(records []hook.Record) [][]int {
	var groups [][]int
	byKey := map[string]int{}

	for i, rec := range records {
		key := featureKey(rec)
		if key == "" {
			groups = append(groups, []int{i})
			continue
		}

		if g, ok := byKey[key]; ok {
			groups[g] = append(groups[g], i)
			continue
		}

		byKey[key] = len(groups)
		groups = append(groups, []int{i})
	}

	return groups
}

func featureKey(rec hook.Record) (key string) {
	defer func() {
		if r := recover(); r != nil {
			key = ""
		}
	}()

	job, err := hook.Decode(rec)
	if err != nil || job.FeatureID() == "" {
		return ""
	}

	layer := job.Destination.Layer
	if u, err := url.Parse(layer); err != nil || !u.IsAbs() {
		layer = strings.TrimRight(job.Destination.URL, "/") + "/" + strings.Trim(layer, "/")
	}

	return strings.TrimRight(layer, "/") + "\x00" + job.FeatureID()
}
