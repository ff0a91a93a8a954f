package job

import (
	"context"
	"net/http"
	"time"

	"inviqa/layer-hook-relay/config"
	"inviqa/layer-hook-relay/log"
	"inviqa/layer-hook-relay/newrelic"

	nr "github.com/newrelic/go-agent/v3/newrelic"
)

// completedRetention is how long pushed hook records are kept for inspection.
const completedRetention = time.Hour

type CompletedDeleter interface {
	DeleteCompleted(olderThan time.Time) (int64, error)
}

type cleanup struct {
	cd  CompletedDeleter
	now func() time.Time
	SidecarQuitter
}

// RunCleanup deletes completed hook queue rows and returns the process exit
// code.
func RunCleanup(ctx context.Context, nrApp *nr.Application, repo CompletedDeleter, cfg *config.Config) int {
	_, txn := newrelic.ContextWithTxn(ctx, "job: RunCleanup()", nrApp)
	defer txn.End()

	j := newCleanup(repo, http.DefaultClient)
	if cfg.SidecarProxyUrl != "" {
		j.EnableSideCarProxyQuit(cfg.SidecarProxyUrl)
	}

	if _, err := j.Execute(); err != nil {
		txn.NoticeError(err)
		return 1
	}

	return 0
}

func newCleanup(cd CompletedDeleter, cl httpPoster) *cleanup {
	return &cleanup{
		cd:  cd,
		now: time.Now,
		SidecarQuitter: SidecarQuitter{
			Client: cl,
		},
	}
}

func (c *cleanup) Execute() (int64, error) {
	rows, err := c.cd.DeleteCompleted(c.now().Add(-completedRetention))
	if err != nil {
		log.Logger.WithError(err).Error("an error occurred whilst deleting completed hook records")
		return 0, err
	}

	log.Logger.Infof("deleted %d completed hook records", rows)

	if c.QuitSidecar {
		if err := c.Quit(); err != nil {
			return 0, err
		}
	}

	return rows, nil
}
