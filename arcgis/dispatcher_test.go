package arcgis

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"inviqa/layer-hook-relay/arcgis/test"
	"inviqa/layer-hook-relay/hook"
	hooktest "inviqa/layer-hook-relay/hook/test"

	"github.com/go-test/deep"
	"github.com/pkg/errors"
)

func newJob(t *testing.T, p hooktest.Payload) hook.Job {
	t.Helper()

	job, err := hook.Decode(hook.Record{ID: "rec", Body: p.Bytes()})
	if err != nil {
		t.Fatalf("unable to decode test payload: %s", err)
	}
	return job
}

func newTestDispatcher(srv *test.FeatureServer, attempts int) *Dispatcher {
	return NewDispatcher(srv.Client(), NewRetryPolicy(attempts, 0, 0))
}

func TestDispatchCreatesFeature(t *testing.T) {
	srv := test.NewFeatureServer()
	defer srv.Close()

	d := newTestDispatcher(srv, 3)
	job := newJob(t, hooktest.NewPayload(srv.LayerURL()))

	if err := d.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	f, ok := srv.Feature("ANDROID-1234")
	if !ok {
		t.Fatalf("expected feature ANDROID-1234 to be stored, got %v", srv.Features())
	}

	if f.Attributes["callsign"] != "Ingalls Test CoT" {
		t.Errorf("expected the feature properties to be written, got %v", f.Attributes)
	}

	if diff := deep.Equal(f.Geometry, map[string]interface{}{
		"x":                -108.63009398166237,
		"y":                38.99509004827766,
		"spatialReference": map[string]interface{}{"wkid": float64(4326)},
	}); diff != nil {
		t.Error(diff)
	}

	var ops []string
	for _, r := range srv.Requests() {
		ops = append(ops, r.Op)
	}
	if diff := deep.Equal(ops, []string{"query", "addFeatures"}); diff != nil {
		t.Error(diff)
	}
}

func TestDispatchRedeliveryUpdatesInPlace(t *testing.T) {
	srv := test.NewFeatureServer()
	defer srv.Close()

	d := newTestDispatcher(srv, 3)
	job := newJob(t, hooktest.NewPayload(srv.LayerURL()))

	for i := 0; i < 2; i++ {
		if err := d.Dispatch(context.Background(), job); err != nil {
			t.Fatalf("delivery %d: unexpected error: %s", i+1, err)
		}
	}

	if n := len(srv.Features()); n != 1 {
		t.Errorf("expected exactly one feature after redelivery, got %d", n)
	}

	if n := srv.RequestCount("updateFeatures"); n != 1 {
		t.Errorf("expected the second delivery to update the feature, got %d update(s)", n)
	}

	if n := srv.RequestCount("addFeatures"); n != 1 {
		t.Errorf("expected a single add, got %d", n)
	}
}

func TestDispatchUpdateUsesExistingObjectID(t *testing.T) {
	srv := test.NewFeatureServer()
	defer srv.Close()

	oid := srv.Seed("ANDROID-1234", map[string]interface{}{"cotuid": "ANDROID-1234", "callsign": "old"})

	d := newTestDispatcher(srv, 1)
	job := newJob(t, hooktest.NewPayload(srv.LayerURL()).Set("type", "update"))

	if err := d.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	f, _ := srv.Feature("ANDROID-1234")
	if f.ObjectID != oid {
		t.Errorf("expected object ID %d to be kept, got %d", oid, f.ObjectID)
	}
	if f.Attributes["callsign"] != "Ingalls Test CoT" {
		t.Errorf("expected the callsign to be updated, got %v", f.Attributes["callsign"])
	}
	if f.Attributes["objectid"] != float64(oid) {
		t.Errorf("expected the update to carry objectid %d, got %v", oid, f.Attributes["objectid"])
	}
}

func TestDispatchDelete(t *testing.T) {
	srv := test.NewFeatureServer()
	defer srv.Close()

	srv.Seed("ANDROID-1234", map[string]interface{}{"cotuid": "ANDROID-1234"})
	srv.Seed("OTHER", map[string]interface{}{"cotuid": "OTHER"})

	d := newTestDispatcher(srv, 1)
	job := newJob(t, hooktest.NewPayload(srv.LayerURL()).Set("type", "delete"))

	for i := 0; i < 2; i++ {
		if err := d.Dispatch(context.Background(), job); err != nil {
			t.Fatalf("delivery %d: unexpected error: %s", i+1, err)
		}
	}

	if _, ok := srv.Feature("ANDROID-1234"); ok {
		t.Error("expected the feature to be removed")
	}
	if _, ok := srv.Feature("OTHER"); !ok {
		t.Error("expected unrelated features to be left alone")
	}

	reqs := srv.Requests()
	if got := reqs[0].Form["where"]; len(got) != 1 || got[0] != "cotuid='ANDROID-1234'" {
		t.Errorf("unexpected where clause %v", got)
	}
}

func TestDispatchEscapesFeatureID(t *testing.T) {
	srv := test.NewFeatureServer()
	defer srv.Close()

	d := newTestDispatcher(srv, 1)
	job := newJob(t, hooktest.NewPayload(srv.LayerURL()).Set("feat.id", "O'Brien"))

	if err := d.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if got := srv.Requests()[0].Form.Get("where"); got != "cotuid='O''Brien'" {
		t.Errorf("expected quotes to be doubled, got %q", got)
	}
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	tests := []struct {
		name  string
		codes []int
	}{
		{name: "server error", codes: []int{http.StatusInternalServerError}},
		{name: "throttled", codes: []int{http.StatusTooManyRequests}},
		{name: "two failures", codes: []int{http.StatusBadGateway, http.StatusServiceUnavailable}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := test.NewFeatureServer()
			defer srv.Close()

			srv.FailNext(tt.codes...)

			d := newTestDispatcher(srv, 3)
			job := newJob(t, hooktest.NewPayload(srv.LayerURL()))

			if err := d.Dispatch(context.Background(), job); err != nil {
				t.Fatalf("unexpected error: %s", err)
			}

			if n := len(srv.Features()); n != 1 {
				t.Errorf("expected the feature to be written once, got %d feature(s)", n)
			}
		})
	}
}

func TestDispatchGivesUpAfterAllAttempts(t *testing.T) {
	srv := test.NewFeatureServer()
	defer srv.Close()

	srv.FailAll(http.StatusServiceUnavailable)

	d := newTestDispatcher(srv, 3)
	job := newJob(t, hooktest.NewPayload(srv.LayerURL()))

	err := d.Dispatch(context.Background(), job)
	if err == nil {
		t.Fatal("expected an error")
	}

	if !hook.Retriable(err) {
		t.Errorf("expected a retriable error, got %s", err)
	}

	if n := len(srv.Requests()); n != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", n)
	}
}

func TestDispatchPermanentFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*test.FeatureServer)
	}{
		{name: "bad request", setup: func(s *test.FeatureServer) { s.FailNext(http.StatusBadRequest) }},
		{name: "not found", setup: func(s *test.FeatureServer) { s.FailNext(http.StatusNotFound) }},
		{name: "error body", setup: func(s *test.FeatureServer) { s.APIErrorNext(400) }},
		{name: "invalid token", setup: func(s *test.FeatureServer) { s.Token = "another-token" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := test.NewFeatureServer()
			defer srv.Close()

			tt.setup(srv)

			d := newTestDispatcher(srv, 3)
			job := newJob(t, hooktest.NewPayload(srv.LayerURL()))

			err := d.Dispatch(context.Background(), job)
			if err == nil {
				t.Fatal("expected an error")
			}

			if hook.Retriable(err) {
				t.Errorf("expected a permanent error, got %s", err)
			}

			if n := len(srv.Requests()); n != 1 {
				t.Errorf("expected a single attempt, got %d", n)
			}
		})
	}
}

func TestDispatchRetriesTransientErrorBody(t *testing.T) {
	srv := test.NewFeatureServer()
	defer srv.Close()

	srv.APIErrorNext(503)

	d := newTestDispatcher(srv, 2)
	job := newJob(t, hooktest.NewPayload(srv.LayerURL()))

	if err := d.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
}

func TestDispatchChecksExpiryBeforeEveryAttempt(t *testing.T) {
	srv := test.NewFeatureServer()
	defer srv.Close()

	srv.FailAll(http.StatusInternalServerError)

	expires := time.Now().Add(time.Minute)
	job := newJob(t, hooktest.NewPayload(srv.LayerURL()).Set("secrets.expires", float64(expires.Unix())))

	d := newTestDispatcher(srv, 5)

	// the clock jumps past the expiry once the first attempt has failed
	calls := 0
	d.now = func() time.Time {
		calls++
		if calls > 1 {
			return expires.Add(time.Second)
		}
		return expires.Add(-time.Minute)
	}

	err := d.Dispatch(context.Background(), job)
	if !errors.Is(err, hook.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	if n := len(srv.Requests()); n != 1 {
		t.Errorf("expected no attempt after the token expired, got %d request(s)", n)
	}
}

func TestDispatchExpiredTokenMakesNoRequest(t *testing.T) {
	srv := test.NewFeatureServer()
	defer srv.Close()

	job := newJob(t, hooktest.NewPayload(srv.LayerURL()).Set("secrets.expires", float64(time.Now().Add(-time.Minute).Unix())))

	err := newTestDispatcher(srv, 3).Dispatch(context.Background(), job)
	if !errors.Is(err, hook.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	if n := len(srv.Requests()); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestDispatchStopsRetryingWhenContextIsDone(t *testing.T) {
	srv := test.NewFeatureServer()
	defer srv.Close()

	srv.FailAll(http.StatusInternalServerError)

	ctx, cancel := context.WithCancel(context.Background())
	srv.OnRequest(func(string) { cancel() })

	d := newTestDispatcher(srv, 5)
	job := newJob(t, hooktest.NewPayload(srv.LayerURL()))

	err := d.Dispatch(ctx, job)
	if err == nil {
		t.Fatal("expected an error")
	}

	if !hook.Retriable(err) {
		t.Errorf("expected a retriable error, got %s", err)
	}

	if n := len(srv.Requests()); n != 1 {
		t.Errorf("expected no retry once the context is done, got %d request(s)", n)
	}
}

func TestDispatchFinishesInFlightAttempt(t *testing.T) {
	srv := test.NewFeatureServer()
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv.OnRequest(func(op string) {
		if op == "query" {
			cancel()
		}
	})

	d := newTestDispatcher(srv, 1)
	job := newJob(t, hooktest.NewPayload(srv.LayerURL()))

	if err := d.Dispatch(ctx, job); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if n := len(srv.Features()); n != 1 {
		t.Errorf("expected the in-flight attempt to complete, got %d feature(s)", n)
	}
}

func TestDispatchSendsCredentials(t *testing.T) {
	srv := test.NewFeatureServer()
	defer srv.Close()

	srv.Token = "fake-token"

	d := newTestDispatcher(srv, 1)

	job := newJob(t, hooktest.NewPayload(srv.LayerURL()))
	if err := d.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	for _, r := range srv.Requests() {
		exp := map[string]string{
			"Referer":              "http://example.org",
			"X-Esri-Authorization": "Bearer fake-token",
			"Authorization":        "Bearer fake-token",
			"Idempotency-Key":      "42:create:ANDROID-1234",
			"Content-Type":         "application/x-www-form-urlencoded",
		}
		for k, v := range exp {
			if got := r.Header.Get(k); got != v {
				t.Errorf("%s: expected header %s to be '%s', got '%s'", r.Op, k, v, got)
			}
		}
		if r.Form.Get("f") != "json" {
			t.Errorf("%s: expected f=json, got %q", r.Op, r.Form.Get("f"))
		}
	}
}

func TestDispatchUsesBasicAuthWhenUsernameIsSet(t *testing.T) {
	srv := test.NewFeatureServer()
	defer srv.Close()

	d := newTestDispatcher(srv, 1)

	job := newJob(t, hooktest.NewPayload(srv.LayerURL()).
		Set("body.username", "joe").
		Set("body.password", "passw0rd"))
	if err := d.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	r := srv.Requests()[0]
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
		t.Errorf("expected basic auth, got '%s'", r.Header.Get("Authorization"))
	}
	if r.Header.Get("X-Esri-Authorization") != "Bearer fake-token" {
		t.Errorf("expected the bearer token to be sent as well, got '%s'", r.Header.Get("X-Esri-Authorization"))
	}
}

func TestDispatchUnknownEvent(t *testing.T) {
	srv := test.NewFeatureServer()
	defer srv.Close()

	job := newJob(t, hooktest.NewPayload(srv.LayerURL()).Set("type", "explode"))

	err := newTestDispatcher(srv, 3).Dispatch(context.Background(), job)
	if !errors.Is(err, hook.ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
	if hook.Retriable(err) {
		t.Error("expected an unknown event not to be retriable")
	}
	if n := len(srv.Requests()); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestDispatchInvalidDestination(t *testing.T) {
	job := newJob(t, hooktest.NewPayload("0").Set("body.url", "ftp://example.org"))

	err := NewDispatcher(http.DefaultClient, NewRetryPolicy(3, 0, 0)).Dispatch(context.Background(), job)
	if err == nil {
		t.Fatal("expected an error")
	}
	if hook.Retriable(err) {
		t.Errorf("expected a permanent error, got %s", err)
	}
}

func TestLayerURL(t *testing.T) {
	tests := []struct {
		name    string
		dest    hook.Destination
		exp     string
		wantErr bool
	}{
		{
			name: "absolute layer",
			dest: hook.Destination{URL: "http://ignored.example", Layer: "https://example.org/FeatureServer/0/"},
			exp:  "https://example.org/FeatureServer/0",
		},
		{
			name: "relative layer",
			dest: hook.Destination{URL: "https://example.org/arcgis/rest/services/TAK/FeatureServer/", Layer: "/0"},
			exp:  "https://example.org/arcgis/rest/services/TAK/FeatureServer/0",
		},
		{
			name:    "empty layer",
			dest:    hook.Destination{URL: "https://example.org/FeatureServer", Layer: "/"},
			wantErr: true,
		},
		{
			name:    "relative destination",
			dest:    hook.Destination{URL: "example.org/FeatureServer", Layer: "0"},
			wantErr: true,
		},
		{
			name:    "unsupported layer scheme",
			dest:    hook.Destination{URL: "https://example.org", Layer: "file:///etc/passwd"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := layerURL(tt.dest)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected an error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if got != tt.exp {
				t.Errorf("expected '%s', got '%s'", tt.exp, got)
			}
		})
	}
}
