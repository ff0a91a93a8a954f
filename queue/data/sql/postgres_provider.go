package sql

import (
	"fmt"
	"strings"
)

type PostgresQueryProvider struct {
	Table   string
	Columns []string
}

func (p PostgresQueryProvider) MessagesSuccessUpdateSql(idCount int) string {
	q := `UPDATE %s SET push_completed_at = NOW(), error_reason = '', push_attempts = push_attempts + 1 WHERE id IN (%s)`

	var placeholders []string
	for i := 1; i <= idCount; i++ {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
	}

	return fmt.Sprintf(q, p.Table, strings.Join(placeholders, ", "))
}

func (p PostgresQueryProvider) MessageReleasedUpdateSql(maxPushAttempts int) string {
	q := `UPDATE %s SET error_reason = $1, errored = (push_attempts + 1 >= %d), push_started_at = NULL, batch_id = NULL, push_attempts = push_attempts + 1 WHERE id = $2`

	return fmt.Sprintf(q, p.Table, maxPushAttempts)
}

func (p PostgresQueryProvider) MessageRejectedUpdateSql() string {
	q := `UPDATE %s SET error_reason = $1, errored = TRUE, push_attempts = push_attempts + 1 WHERE id = $2`

	return fmt.Sprintf(q, p.Table)
}

func (p PostgresQueryProvider) BatchCreationSql(batchSize int) string {
	q := `UPDATE %s SET batch_id = $1, push_started_at = NOW()
		WHERE id IN (
			SELECT id FROM %s WHERE ((batch_id IS NULL AND push_started_at IS NULL) OR
			(batch_id IS NOT NULL AND push_completed_at IS NULL AND push_started_at < $2)) AND errored = $3
			ORDER BY created_at ASC LIMIT %d FOR UPDATE SKIP LOCKED)`

	return fmt.Sprintf(q, p.Table, p.Table, batchSize)
}

func (p PostgresQueryProvider) BatchReleaseSql() string {
	return fmt.Sprintf("UPDATE %s SET batch_id = NULL, push_started_at = NULL WHERE batch_id = $1 AND push_completed_at IS NULL", p.Table)
}

func (p PostgresQueryProvider) BatchFetchSql() string {
	return fmt.Sprintf(`SELECT %s FROM %s WHERE batch_id = $1 ORDER BY created_at ASC`, strings.Join(p.Columns, ", "), p.Table)
}

func (p PostgresQueryProvider) DeleteCompletedMessagesSql() string {
	return fmt.Sprintf("DELETE FROM %s WHERE push_completed_at <= $1", p.Table)
}

func (p PostgresQueryProvider) GetQueueSizeSql() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE push_completed_at IS NULL AND errored = FALSE", p.Table)
}

func (p PostgresQueryProvider) GetTotalSizeSql() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", p.Table)
}
