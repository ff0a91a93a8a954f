package prometheus

import (
	"testing"

	"inviqa/layer-hook-relay/hook"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveOutcome(t *testing.T) {
	successBefore := testutil.ToFloat64(sinkSuccess)
	expiredBefore := testutil.ToFloat64(sinkFailure.WithLabelValues("token_expired"))

	ObserveOutcome(hook.Outcome{RecordID: "a"})
	ObserveOutcome(hook.Outcome{RecordID: "b", Err: hook.ErrTokenExpired})
	ObserveOutcome(hook.Outcome{RecordID: "c", Err: hook.ErrTokenExpired})

	if got := testutil.ToFloat64(sinkSuccess) - successBefore; got != 1 {
		t.Errorf("expected 1 successful sink, got %f", got)
	}

	if got := testutil.ToFloat64(sinkFailure.WithLabelValues("token_expired")) - expiredBefore; got != 2 {
		t.Errorf("expected 2 expired token failures, got %f", got)
	}
}

func TestObserveDispatchAttempt(t *testing.T) {
	before := testutil.ToFloat64(dispatchAttempts.WithLabelValues("delete", "transient"))

	ObserveDispatchAttempt(hook.Delete, "transient")

	if got := testutil.ToFloat64(dispatchAttempts.WithLabelValues("delete", "transient")) - before; got != 1 {
		t.Errorf("expected 1 attempt to be counted, got %f", got)
	}
}
