package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"inviqa/layer-hook-relay/hook"

	"github.com/go-test/deep"
	"github.com/pkg/errors"
)

type stubCoordinator struct {
	fail        map[string]bool
	records     []hook.Record
	hadDeadline bool
}

func (s *stubCoordinator) ProcessBatch(ctx context.Context, records []hook.Record) hook.BatchOutcome {
	s.records = records
	_, s.hadDeadline = ctx.Deadline()

	var out hook.BatchOutcome
	for i, r := range records {
		var err error
		if s.fail[r.ID] {
			err = errors.New("failed")
		}
		out.Outcomes = append(out.Outcomes, hook.Outcome{Index: i, RecordID: r.ID, Err: err})
	}
	return out
}

func TestHooksHandler_ServeHTTP(t *testing.T) {
	coord := &stubCoordinator{fail: map[string]bool{"b": true, "c": true}}
	handler := NewHooksHandler(coord, time.Minute)

	body := `{"Records":[
		{"messageId":"a","receiptHandle":"r-a","body":"{\"id\":1}"},
		{"messageId":"b","body":"{\"id\":2}"},
		{"messageId":"c","body":"{}"}
	]}`

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/hooks", strings.NewReader(body)))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 response code, but got %d", recorder.Code)
	}

	var resp batchResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unable to decode the response: %s", err)
	}

	exp := batchResponse{BatchItemFailures: []batchItemFailure{{ItemIdentifier: "b"}, {ItemIdentifier: "c"}}}
	if diff := deep.Equal(resp, exp); diff != nil {
		t.Error(diff)
	}

	expRecords := []hook.Record{
		{ID: "a", Body: []byte(`{"id":1}`)},
		{ID: "b", Body: []byte(`{"id":2}`)},
		{ID: "c", Body: []byte(`{}`)},
	}
	if diff := deep.Equal(coord.records, expRecords); diff != nil {
		t.Error(diff)
	}

	if !coord.hadDeadline {
		t.Error("expected the batch to be processed under a deadline")
	}
}

func TestHooksHandler_ServeHTTPWithoutFailures(t *testing.T) {
	handler := NewHooksHandler(&stubCoordinator{}, 0)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/hooks", strings.NewReader(`{"Records":[{"messageId":"a","body":"{}"}]}`)))

	if got := strings.TrimSpace(recorder.Body.String()); got != `{"batchItemFailures":[]}` {
		t.Errorf("expected an empty failure list, got %s", got)
	}

	if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected a JSON response, got '%s'", ct)
	}
}

func TestHooksHandler_ServeHTTPWithMalformedEvent(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `Records`},
		{name: "wrong shape", body: `{"Records":{}}`},
		{name: "missing message id", body: `{"Records":[{"body":"{}"}]}`},
		{name: "missing body", body: `{"Records":[{"messageId":"a"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord := &stubCoordinator{}
			recorder := httptest.NewRecorder()
			NewHooksHandler(coord, 0).ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/hooks", strings.NewReader(tt.body)))

			if recorder.Code != http.StatusBadRequest {
				t.Errorf("expected 400 response code, but got %d", recorder.Code)
			}

			if coord.records != nil {
				t.Error("expected the batch not to be processed")
			}
		})
	}
}
