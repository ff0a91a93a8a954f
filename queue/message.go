package queue

import (
	"database/sql"
	"strconv"

	"inviqa/layer-hook-relay/hook"

	"github.com/google/uuid"
)

type Batch struct {
	Id       uuid.UUID
	Messages []*Message
}

// Records returns the batch as hook records, in message order.
func (b *Batch) Records() []hook.Record {
	records := make([]hook.Record, 0, len(b.Messages))
	for _, m := range b.Messages {
		records = append(records, m.Record())
	}
	return records
}

type Message struct {
	Id              uint
	BatchId         *uuid.UUID
	PushStartedAt   sql.NullTime
	PushCompletedAt sql.NullTime
	PayloadJson     []byte
	PushAttempts    int
	Errored         bool
	ErrorReason     error
	// Retriable is only meaningful when ErrorReason is set.
	Retriable bool
}

func (m *Message) Record() hook.Record {
	return hook.Record{
		ID:   strconv.FormatUint(uint64(m.Id), 10),
		Body: m.PayloadJson,
	}
}

// Fail records the outcome of processing the message.
func (m *Message) Fail(err error) {
	m.ErrorReason = err
	m.Retriable = hook.Retriable(err)
}
