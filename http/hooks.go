package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"inviqa/layer-hook-relay/hook"
	"inviqa/layer-hook-relay/log"

	"github.com/sirupsen/logrus"
)

const maxEventBytes = 8 << 20

type coordinator interface {
	ProcessBatch(ctx context.Context, records []hook.Record) hook.BatchOutcome
}

// sqsEvent is the subset of an SQS event notification the handler reads.
type sqsEvent struct {
	Records []sqsRecord `json:"Records"`
}

type sqsRecord struct {
	MessageID string  `json:"messageId"`
	Body      *string `json:"body"`
}

type batchResponse struct {
	BatchItemFailures []batchItemFailure `json:"batchItemFailures"`
}

type batchItemFailure struct {
	ItemIdentifier string `json:"itemIdentifier"`
}

type hooksHandler struct {
	coordinator  coordinator
	batchTimeout time.Duration
}

// NewHooksHandler accepts SQS-shaped event batches and answers with the
// partial batch response, listing only the records to redeliver.
func NewHooksHandler(c coordinator, batchTimeout time.Duration) http.Handler {
	return &hooksHandler{
		coordinator:  c,
		batchTimeout: batchTimeout,
	}
}

func (h hooksHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var event sqsEvent
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxEventBytes))
	if err := dec.Decode(&event); err != nil {
		log.Logger.WithError(err).Info("rejecting malformed hook event")
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}

	records := make([]hook.Record, 0, len(event.Records))
	for i, r := range event.Records {
		if r.MessageID == "" || r.Body == nil {
			log.Logger.WithField("index", i).Info("rejecting hook event with an incomplete record")
			http.Error(w, "every record needs a messageId and a body", http.StatusBadRequest)
			return
		}
		records = append(records, hook.Record{ID: r.MessageID, Body: []byte(*r.Body)})
	}

	ctx := req.Context()
	if h.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.batchTimeout)
		defer cancel()
	}

	out := h.coordinator.ProcessBatch(ctx, records)

	resp := batchResponse{BatchItemFailures: []batchItemFailure{}}
	for _, id := range out.FailedRecordIDs() {
		resp.BatchItemFailures = append(resp.BatchItemFailures, batchItemFailure{ItemIdentifier: id})
	}

	log.Logger.WithFields(logrus.Fields{
		"records": len(records),
		"failed":  len(resp.BatchItemFailures),
	}).Info("hook event processed")

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Logger.WithError(err).Error("unable to write the batch response")
	}
}
