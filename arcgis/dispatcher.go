package arcgis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"inviqa/layer-hook-relay/hook"
	"inviqa/layer-hook-relay/log"
	"inviqa/layer-hook-relay/prometheus"

	nr "github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	uidField       = "cotuid"
	maxBodyBytes   = 1 << 20
	idempotencyHdr = "Idempotency-Key"
)

type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns a client that reports every layer request as an
// external segment of the New Relic transaction found in the request context.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: nr.NewRoundTripper(http.DefaultTransport),
	}
}

type Dispatcher struct {
	client Doer
	retry  RetryPolicy
	now    func() time.Time
}

func NewDispatcher(client Doer, retry RetryPolicy) *Dispatcher {
	return &Dispatcher{
		client: client,
		retry:  retry,
		now:    time.Now,
	}
}

// Dispatch writes the job's feature to (or removes it from) the destination
// layer. Transient failures are retried with backoff; the token expiry is
// checked again before every attempt. Once ctx is done no further attempt is
// started, but an attempt already on the wire is allowed to finish.
func (d *Dispatcher) Dispatch(ctx context.Context, job hook.Job) error {
	if job.Kind == hook.Unknown {
		return hook.Permanent(errors.Wrapf(hook.ErrUnknownEvent, "%q", job.RawKind))
	}

	layer, err := layerURL(job.Destination)
	if err != nil {
		return hook.Permanent(err)
	}

	var geometry map[string]interface{}
	if job.Kind.Upsert() {
		if geometry, err = toEsriGeometry(job.Feature.Geometry); err != nil {
			return hook.Permanent(err)
		}
	}

	attempts := d.retry.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := d.wait(ctx, attempt-1); err != nil {
				trace(job, attempt, "abandoned", err)
				prometheus.ObserveDispatchAttempt(job.Kind, "abandoned")
				return hook.Transient(errors.Wrapf(lastErr, "retry abandoned after %d attempt(s): %s", attempt-1, err))
			}
		}

		if err := hook.CheckExpiry(job, d.now()); err != nil {
			trace(job, attempt, "token_expired", err)
			prometheus.ObserveDispatchAttempt(job.Kind, "token_expired")
			return err
		}

		transient, err := d.attempt(ctx, layer, job, geometry)
		switch {
		case err == nil:
			trace(job, attempt, "success", nil)
			prometheus.ObserveDispatchAttempt(job.Kind, "success")
			return nil
		case !transient:
			trace(job, attempt, "permanent", err)
			prometheus.ObserveDispatchAttempt(job.Kind, "permanent")
			return hook.Permanent(err)
		}

		trace(job, attempt, "transient", err)
		prometheus.ObserveDispatchAttempt(job.Kind, "transient")
		lastErr = err
	}

	return hook.Transient(errors.Wrapf(lastErr, "gave up after %d attempt(s)", attempts))
}

func (d *Dispatcher) wait(ctx context.Context, failed int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timer := time.NewTimer(d.retry.Backoff(failed))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *Dispatcher) attempt(ctx context.Context, layer string, job hook.Job, geometry map[string]interface{}) (bool, error) {
	// the batch deadline stops new attempts, not the one in flight
	ctx = context.WithoutCancel(ctx)

	where := fmt.Sprintf("%s='%s'", uidField, strings.ReplaceAll(job.FeatureID(), "'", "''"))

	if job.Kind == hook.Delete {
		var res editResponse
		if transient, err := d.post(ctx, job, layer+"/deleteFeatures", url.Values{"where": {where}}, &res); err != nil {
			return transient, err
		}
		return false, res.check("deleteResults", res.DeleteResults)
	}

	var q queryResponse
	transient, err := d.post(ctx, job, layer+"/query", url.Values{
		"where":          {where},
		"outFields":      {"objectid"},
		"returnGeometry": {"false"},
	}, &q)
	if err != nil {
		return transient, err
	}

	feature := map[string]interface{}{
		"attributes": attributes(job),
		"geometry":   geometry,
	}

	op, results := "addFeatures", "addResults"
	if oid, ok := q.objectID(); ok {
		feature["attributes"].(map[string]interface{})["objectid"] = oid
		op, results = "updateFeatures", "updateResults"
	}

	features, err := json.Marshal([]interface{}{feature})
	if err != nil {
		return false, errors.Wrap(err, "arcgis: encoding feature")
	}

	var res editResponse
	if transient, err := d.post(ctx, job, layer+"/"+op, url.Values{"features": {string(features)}}, &res); err != nil {
		return transient, err
	}

	if op == "addFeatures" {
		return false, res.check(results, res.AddResults)
	}
	return false, res.check(results, res.UpdateResults)
}

func (d *Dispatcher) post(ctx context.Context, job hook.Job, endpoint string, form url.Values, out interface{}) (bool, error) {
	form.Set("f", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, errors.Wrapf(err, "arcgis: building request for %s", endpoint)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", job.Auth.Referer)
	req.Header.Set("X-Esri-Authorization", "Bearer "+job.Auth.Token)
	req.Header.Set(idempotencyHdr, job.IdempotencyKey())
	if job.Destination.Username != "" {
		req.SetBasicAuth(job.Destination.Username, job.Destination.Password)
	} else {
		req.Header.Set("Authorization", "Bearer "+job.Auth.Token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return true, errors.Wrapf(err, "arcgis: POST %s", endpoint)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return true, errors.Wrapf(err, "arcgis: reading response from %s", endpoint)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return transientStatus(resp.StatusCode), errors.Errorf("arcgis: POST %s returned %d: %s", endpoint, resp.StatusCode, bytes.TrimSpace(body))
	}

	var env struct {
		Error *apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return false, errors.Wrapf(err, "arcgis: decoding response from %s", endpoint)
	}
	if env.Error != nil {
		return transientStatus(env.Error.Code), errors.Errorf("arcgis: POST %s failed: %s", endpoint, env.Error)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return false, errors.Wrapf(err, "arcgis: decoding response from %s", endpoint)
	}

	return false, nil
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func attributes(job hook.Job) map[string]interface{} {
	attrs := make(map[string]interface{}, len(job.Feature.Properties)+1)
	for k, v := range job.Feature.Properties {
		attrs[k] = v
	}
	attrs[uidField] = job.FeatureID()
	return attrs
}

// layerURL resolves the layer endpoint: an absolute layer URL is used as is,
// anything else is taken relative to the destination URL.
func layerURL(dest hook.Destination) (string, error) {
	if u, err := url.Parse(dest.Layer); err == nil && u.IsAbs() {
		if !httpScheme(u) || u.Host == "" {
			return "", errors.Errorf("arcgis: unsupported layer URL %q", dest.Layer)
		}
		return strings.TrimRight(dest.Layer, "/"), nil
	}

	base, err := url.Parse(dest.URL)
	if err != nil || !base.IsAbs() || !httpScheme(base) || base.Host == "" {
		return "", errors.Errorf("arcgis: invalid destination URL %q", dest.URL)
	}

	layer := strings.Trim(dest.Layer, "/")
	if layer == "" {
		return "", errors.New("arcgis: empty layer")
	}

	return strings.TrimRight(dest.URL, "/") + "/" + layer, nil
}

func httpScheme(u *url.URL) bool {
	return u.Scheme == "http" || u.Scheme == "https"
}

func trace(job hook.Job, attempt int, outcome string, err error) {
	if !job.Options.LoggingEnabled {
		return
	}

	entry := log.Trace.WithFields(logrus.Fields{
		"job_id":     job.ID,
		"event_kind": job.Kind.String(),
		"feature_id": job.FeatureID(),
		"attempt":    attempt,
		"outcome":    outcome,
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Info("layer dispatch attempt")
}

type apiError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *apiError) String() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("%d %s (%s)", e.Code, e.Message, strings.Join(e.Details, "; "))
	}
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

type queryResponse struct {
	Features []struct {
		Attributes map[string]interface{} `json:"attributes"`
	} `json:"features"`
}

// objectID returns the object id of the first matching feature. Layers differ
// in the casing of the field name.
func (q queryResponse) objectID() (interface{}, bool) {
	if len(q.Features) == 0 {
		return nil, false
	}

	for k, v := range q.Features[0].Attributes {
		if strings.EqualFold(k, "objectid") {
			return v, true
		}
	}
	return nil, false
}

type editResult struct {
	ObjectID json.Number `json:"objectId"`
	Success  bool        `json:"success"`
	Error    *struct {
		Code        int    `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

type editResponse struct {
	AddResults    []editResult `json:"addResults"`
	UpdateResults []editResult `json:"updateResults"`
	DeleteResults []editResult `json:"deleteResults"`
	Success       *bool        `json:"success"`
}

func (r editResponse) check(name string, results []editResult) error {
	if r.Success != nil && !*r.Success {
		return errors.Errorf("arcgis: %s reported failure", name)
	}

	for _, res := range results {
		if res.Success {
			continue
		}
		if res.Error != nil {
			return errors.Errorf("arcgis: %s rejected object %s: %d %s", name, res.ObjectID, res.Error.Code, res.Error.Description)
		}
		return errors.Errorf("arcgis: %s rejected object %s", name, res.ObjectID)
	}
	return nil
}
