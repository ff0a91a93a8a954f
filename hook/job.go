package hook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
)

type EventKind int

const (
	Unknown EventKind = iota
	Create
	Update
	Delete
)

// legacyUpsertTag is the adaptor name older producers put in the type field.
const legacyUpsertTag = "arcgis"

func ParseEventKind(s string) EventKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "create":
		return Create
	case "update", legacyUpsertTag:
		return Update
	case "delete":
		return Delete
	default:
		return Unknown
	}
}

func (k EventKind) String() string {
	switch k {
	case Create:
		return "create"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Upsert reports whether the event writes the feature into the layer.
func (k EventKind) Upsert() bool {
	return k == Create || k == Update
}

// Job is one decoded queue record. It is passed by value and never modified
// after Decode returns it.
type Job struct {
	ID          int64
	Kind        EventKind
	RawKind     string
	Feature     *geojson.Feature
	FeatureJSON json.RawMessage
	Destination Destination
	Auth        Auth
	Options     Options
}

type Destination struct {
	URL      string
	Username string
	Password string
	Layer    string
}

type Auth struct {
	Token     string
	ExpiresAt time.Time
	Referer   string
}

type Options struct {
	LoggingEnabled bool
}

// FeatureID is the identity of the feature inside the layer.
func (j Job) FeatureID() string {
	if j.Feature == nil || j.Feature.ID == nil {
		return ""
	}

	switch id := j.Feature.ID.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return fmt.Sprint(id)
	}
}

// IdempotencyKey stays the same for every delivery of the same change, so a
// downstream service can drop repeats.
func (j Job) IdempotencyKey() string {
	return fmt.Sprintf("%d:%s:%s", j.ID, j.Kind, j.FeatureID())
}
