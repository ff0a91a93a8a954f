package hook

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

// epoch values above this are taken to be milliseconds
const millisecondThreshold = 1e11

// Decode turns one queue record into a Job. The body is expected to look like
//
//	{
//	  "id": 1,
//	  "type": "create",
//	  "feat": {"type": "Feature", "id": "uid", "geometry": {...}, "properties": {...}},
//	  "body": {"url": "...", "username": "...", "password": "...", "layer": "..."},
//	  "secrets": {"token": "...", "expires": 1700000000, "referer": "..."},
//	  "options": {"logging": true}
//	}
func Decode(rec Record) (Job, error) {
	root, err := parseObject("", rec.Body)
	if err != nil {
		return Job{}, err
	}

	var job Job
	if job.ID, err = root.integer("id"); err != nil {
		return Job{}, err
	}

	if job.RawKind, err = root.str("type"); err != nil {
		return Job{}, err
	}
	job.Kind = ParseEventKind(job.RawKind)

	if job.Feature, job.FeatureJSON, err = root.feature("feat"); err != nil {
		return Job{}, err
	}

	body, err := root.child("body")
	if err != nil {
		return Job{}, err
	}
	if job.Destination, err = decodeDestination(body); err != nil {
		return Job{}, err
	}

	secrets, err := root.child("secrets")
	if err != nil {
		return Job{}, err
	}
	if job.Auth, err = decodeAuth(secrets); err != nil {
		return Job{}, err
	}

	if root.has("options") {
		opts, err := root.child("options")
		if err != nil {
			return Job{}, err
		}
		if job.Options.LoggingEnabled, err = opts.optBool("logging"); err != nil {
			return Job{}, err
		}
	}

	return job, nil
}

func decodeDestination(o object) (Destination, error) {
	var (
		d   Destination
		err error
	)

	if d.URL, err = o.str("url"); err != nil {
		return d, err
	}
	if d.Layer, err = o.str("layer"); err != nil {
		return d, err
	}
	if d.Username, err = o.optStr("username"); err != nil {
		return d, err
	}
	if d.Password, err = o.optStr("password"); err != nil {
		return d, err
	}

	return d, nil
}

func decodeAuth(o object) (Auth, error) {
	var (
		a   Auth
		err error
	)

	if a.Token, err = o.str("token"); err != nil {
		return a, err
	}

	expires, err := o.number("expires")
	if err != nil {
		return a, err
	}
	a.ExpiresAt = epochToTime(expires)

	if a.Referer, err = o.str("referer"); err != nil {
		return a, err
	}

	return a, nil
}

func epochToTime(v float64) time.Time {
	if math.Abs(v) > millisecondThreshold {
		return time.UnixMilli(int64(v))
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

type object struct {
	path   string
	fields map[string]json.RawMessage
}

func parseObject(path string, raw []byte) (object, error) {
	o := object{path: path}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		if path == "" {
			return o, &DecodeError{Kind: Malformed, Err: errors.New("record body is not a JSON object")}
		}
		return o, mismatch(path)
	}

	if err := json.Unmarshal(trimmed, &o.fields); err != nil {
		if path == "" {
			return o, &DecodeError{Kind: Malformed, Err: err}
		}
		return o, mismatch(path)
	}

	return o, nil
}

func (o object) fieldPath(name string) string {
	if o.path == "" {
		return name
	}
	return o.path + "." + name
}

func (o object) has(name string) bool {
	raw, ok := o.fields[name]
	return ok && !isNull(raw)
}

func (o object) required(name string) (json.RawMessage, error) {
	if !o.has(name) {
		return nil, &DecodeError{Kind: MissingField, Field: name, Path: o.fieldPath(name)}
	}
	return o.fields[name], nil
}

func (o object) child(name string) (object, error) {
	raw, err := o.required(name)
	if err != nil {
		return object{}, err
	}
	return parseObject(o.fieldPath(name), raw)
}

func (o object) str(name string) (string, error) {
	raw, err := o.required(name)
	if err != nil {
		return "", err
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", o.mismatch(name)
	}
	return s, nil
}

func (o object) optStr(name string) (string, error) {
	if !o.has(name) {
		return "", nil
	}
	return o.str(name)
}

func (o object) optBool(name string) (bool, error) {
	if !o.has(name) {
		return false, nil
	}

	var b bool
	if err := json.Unmarshal(o.fields[name], &b); err != nil {
		return false, o.mismatch(name)
	}
	return b, nil
}

func (o object) jsonNumber(name string) (json.Number, error) {
	raw, err := o.required(name)
	if err != nil {
		return "", err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", o.mismatch(name)
	}

	n, ok := v.(json.Number)
	if !ok {
		return "", o.mismatch(name)
	}
	return n, nil
}

func (o object) integer(name string) (int64, error) {
	n, err := o.jsonNumber(name)
	if err != nil {
		return 0, err
	}

	i, err := n.Int64()
	if err != nil {
		return 0, o.mismatch(name)
	}
	return i, nil
}

func (o object) number(name string) (float64, error) {
	n, err := o.jsonNumber(name)
	if err != nil {
		return 0, err
	}

	f, err := n.Float64()
	if err != nil {
		return 0, o.mismatch(name)
	}
	return f, nil
}

func (o object) feature(name string) (*geojson.Feature, json.RawMessage, error) {
	raw, err := o.required(name)
	if err != nil {
		return nil, nil, err
	}

	f, err := geojson.UnmarshalFeature(raw)
	if err != nil {
		return nil, nil, &DecodeError{Kind: TypeMismatch, Field: name, Path: o.fieldPath(name), Err: err}
	}

	path := o.fieldPath(name)
	if f.Geometry == nil {
		return nil, nil, &DecodeError{Kind: MissingField, Field: "geometry", Path: path + ".geometry"}
	}
	if f.ID == nil {
		return nil, nil, &DecodeError{Kind: MissingField, Field: "id", Path: path + ".id"}
	}

	return f, raw, nil
}

func (o object) mismatch(name string) error {
	return &DecodeError{Kind: TypeMismatch, Field: name, Path: o.fieldPath(name)}
}

func mismatch(path string) error {
	field := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		field = path[i+1:]
	}
	return &DecodeError{Kind: TypeMismatch, Field: field, Path: path}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
