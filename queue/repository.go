package queue

import (
	"context"
	"database/sql"
	"time"

	"inviqa/layer-hook-relay/config"
	"inviqa/layer-hook-relay/log"
	s "inviqa/layer-hook-relay/queue/data/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const staleClaimAge = 10 * time.Minute

var (
	ErrNoEvents = errors.New("no hook records in the batch")

	columns = []string{"id", "batch_id", "push_started_at", "push_completed_at", "payload_json", "push_attempts"}
)

type queryProvider interface {
	BatchCreationSql(batchSize int) string
	BatchFetchSql() string
	BatchReleaseSql() string
	MessageReleasedUpdateSql(maxPushAttempts int) string
	MessageRejectedUpdateSql() string
	MessagesSuccessUpdateSql(idCount int) string
	DeleteCompletedMessagesSql() string
	GetQueueSizeSql() string
	GetTotalSizeSql() string
}

type Repository struct {
	db            *sql.DB
	cfg           *config.Config
	queryProvider queryProvider
}

func NewRepository(db *sql.DB, cfg *config.Config) Repository {
	return NewRepositoryWithQueryProvider(db, cfg, newQueryProvider(cfg.DBDriver, cfg.DBQueueTable, columns))
}

func NewRepositoryWithQueryProvider(db *sql.DB, cfg *config.Config, qp queryProvider) Repository {
	return Repository{
		db:            db,
		cfg:           cfg,
		queryProvider: qp,
	}
}

// GetBatch claims up to BatchSize unprocessed rows under a new batch ID and
// returns them. Claims older than ten minutes that never completed are taken
// over, so a crashed consumer cannot hold rows forever.
// If nothing was claimed the special ErrNoEvents value is returned.
func (r Repository) GetBatch() (*Batch, error) {
	batchId := uuid.New()
	stale := time.Now().In(time.UTC).Add(-staleClaimAge)

	res, err := r.db.Exec(r.queryProvider.BatchCreationSql(r.cfg.BatchSize), batchId, stale, false)
	if err != nil {
		return nil, errors.Errorf("queue: error claiming a batch of hook records: %s", err)
	}

	count, _ := res.RowsAffected()
	if count < 1 {
		return nil, ErrNoEvents
	}

	rows, err := r.db.Query(r.queryProvider.BatchFetchSql(), batchId)
	if err != nil {
		return nil, errors.Errorf("queue: error fetching claimed batch %s: %s", batchId, err)
	}
	defer rows.Close()

	batch := &Batch{
		Id:       batchId,
		Messages: []*Message{},
	}

	for rows.Next() {
		msg := &Message{}
		err := rows.Scan(&msg.Id, &msg.BatchId, &msg.PushStartedAt, &msg.PushCompletedAt, &msg.PayloadJson, &msg.PushAttempts)
		if err != nil {
			return nil, errors.Errorf("queue: error scanning hook record into memory: %s", err)
		}
		batch.Messages = append(batch.Messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Errorf("queue: error reading claimed batch %s: %s", batchId, err)
	}

	return batch, nil
}

// ReleaseBatch hands the unfinished rows of a claimed batch back to the queue
// without counting a delivery attempt.
func (r Repository) ReleaseBatch(batchId uuid.UUID) error {
	if _, err := r.db.Exec(r.queryProvider.BatchReleaseSql(), batchId); err != nil {
		return errors.Wrapf(err, "queue: error releasing batch %s", batchId)
	}

	return nil
}

// CommitBatch marks successful messages completed, releases retriable
// failures for another delivery and errors out the rest, in one transaction.
func (r Repository) CommitBatch(ctx context.Context, batch *Batch) {
	logger := log.Logger.WithFields(logrus.Fields{
		"batch_id":     batch.Id.String(),
		"num_messages": len(batch.Messages),
	})
	logger.Debug("starting batch commit")

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		logger.WithError(err).Error("error occurred starting a DB transaction to commit the batch")
		return
	}

	var successIds []interface{}
	for _, msg := range batch.Messages {
		if msg.ErrorReason != nil {
			r.updateFailedMessage(ctx, tx, msg)
		} else {
			successIds = append(successIds, msg.Id)
		}
	}

	if len(successIds) > 0 {
		if err := r.updateSuccessfulMessages(ctx, tx, successIds); err != nil {
			logger.WithError(err).Error("error occurred updating successful hook records")
			if err := tx.Rollback(); err != nil {
				logger.WithError(err).Error("error rolling back the DB transaction")
			}
			return
		}
	}

	if err := tx.Commit(); err != nil {
		logger.WithError(err).Error("error occurred committing transaction for batch")
	}
}

func (r Repository) DeleteCompleted(olderThan time.Time) (int64, error) {
	res, err := r.db.Exec(r.queryProvider.DeleteCompletedMessagesSql(), olderThan)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (r Repository) GetQueueSize() (uint, error) {
	var count uint
	if err := r.db.QueryRow(r.queryProvider.GetQueueSizeSql()).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

func (r Repository) GetTotalSize() (uint, error) {
	var count uint
	if err := r.db.QueryRow(r.queryProvider.GetTotalSizeSql()).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

func (r Repository) updateFailedMessage(ctx context.Context, tx *sql.Tx, msg *Message) {
	q := r.queryProvider.MessageRejectedUpdateSql()
	if msg.Retriable {
		q = r.queryProvider.MessageReleasedUpdateSql(r.cfg.MaxReceiveCount)
	}

	log.Logger.WithFields(logrus.Fields{
		"query":        q,
		"error_reason": msg.ErrorReason,
		"retriable":    msg.Retriable,
		"id":           msg.Id,
	}).Debug("updating failed hook record")

	if _, err := tx.ExecContext(ctx, q, msg.ErrorReason.Error(), msg.Id); err != nil {
		log.Logger.WithError(err).Errorf("error occurred updating the hook record with ID %d", msg.Id)
	}
}

func (r Repository) updateSuccessfulMessages(ctx context.Context, tx *sql.Tx, ids []interface{}) error {
	q := r.queryProvider.MessagesSuccessUpdateSql(len(ids))

	log.Logger.WithFields(logrus.Fields{"query": q, "ids": ids}).Debug("updating successful hook records")

	_, err := tx.ExecContext(ctx, q, ids...)

	return err
}

func newQueryProvider(d config.DbDriver, table string, columns []string) queryProvider {
	switch {
	case d.Postgres():
		return &s.PostgresQueryProvider{Table: table, Columns: columns}
	case d.MySQL():
		return &s.MysqlQueryProvider{Table: table, Columns: columns}
	}

	return nil
}
