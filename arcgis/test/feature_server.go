package test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"regexp"
	"sync"
)

var whereUID = regexp.MustCompile(`^cotuid='(.*)'$`)

type Feature struct {
	ObjectID   int
	Attributes map[string]interface{}
	Geometry   map[string]interface{}
}

type Request struct {
	Op     string
	Header http.Header
	Form   url.Values
}

// FeatureServer is an in-memory stand-in for an ArcGIS FeatureServer layer.
// Like a real layer, every add allocates a new objectid, so adding the same
// cotuid twice leaves two features behind.
type FeatureServer struct {
	*httptest.Server

	mu        sync.Mutex
	Token     string
	features  []*Feature
	nextOID   int
	requests  []Request
	failNext  []int
	failAll   int
	apiErrors []int
	onRequest func(op string)
}

func NewFeatureServer() *FeatureServer {
	s := &FeatureServer{
		nextOID: 1,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *FeatureServer) LayerURL() string {
	return s.URL + "/arcgis/rest/services/Hosted/TAK_ETL/FeatureServer/0"
}

// FailNext makes the next requests return the given HTTP status codes.
func (s *FeatureServer) FailNext(codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, codes...)
}

// FailAll makes every request return the given HTTP status code.
func (s *FeatureServer) FailAll(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = code
}

// APIErrorNext makes the next requests answer 200 with an ArcGIS error body.
func (s *FeatureServer) APIErrorNext(codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiErrors = append(s.apiErrors, codes...)
}

// OnRequest registers a hook called, outside the lock, for every request.
func (s *FeatureServer) OnRequest(fn func(op string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRequest = fn
}

// Features returns every stored feature in objectid order.
func (s *FeatureServer) Features() []Feature {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Feature, 0, len(s.features))
	for _, f := range s.features {
		out = append(out, *f)
	}
	return out
}

// FeaturesWithUID returns every stored feature whose cotuid is uid.
func (s *FeatureServer) FeaturesWithUID(uid string) []Feature {
	var out []Feature
	for _, f := range s.Features() {
		if f.uid() == uid {
			out = append(out, f)
		}
	}
	return out
}

// Feature returns the first stored feature whose cotuid is uid.
func (s *FeatureServer) Feature(uid string) (Feature, bool) {
	fs := s.FeaturesWithUID(uid)
	if len(fs) == 0 {
		return Feature{}, false
	}
	return fs[0], true
}

func (s *FeatureServer) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *FeatureServer) RequestCount(op string) int {
	var n int
	for _, r := range s.Requests() {
		if r.Op == op {
			n++
		}
	}
	return n
}

func (s *FeatureServer) Seed(uid string, attrs map[string]interface{}) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(attrs, nil)
}

func (s *FeatureServer) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	op := path.Base(r.URL.Path)

	s.mu.Lock()
	s.requests = append(s.requests, Request{Op: op, Header: r.Header.Clone(), Form: r.PostForm})
	hook := s.onRequest
	s.mu.Unlock()

	if hook != nil {
		hook(op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAll != 0 {
		http.Error(w, http.StatusText(s.failAll), s.failAll)
		return
	}

	if len(s.failNext) > 0 {
		code := s.failNext[0]
		s.failNext = s.failNext[1:]
		http.Error(w, http.StatusText(code), code)
		return
	}

	if len(s.apiErrors) > 0 {
		code := s.apiErrors[0]
		s.apiErrors = s.apiErrors[1:]
		writeJSON(w, map[string]interface{}{"error": map[string]interface{}{"code": code, "message": "simulated failure"}})
		return
	}

	if s.Token != "" && r.Header.Get("X-Esri-Authorization") != "Bearer "+s.Token {
		writeJSON(w, map[string]interface{}{"error": map[string]interface{}{"code": 498, "message": "Invalid token."}})
		return
	}

	switch op {
	case "query":
		s.query(w, r)
	case "addFeatures":
		s.add(w, r)
	case "updateFeatures":
		s.update(w, r)
	case "deleteFeatures":
		s.delete(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *FeatureServer) query(w http.ResponseWriter, r *http.Request) {
	uid := uidFromWhere(r.PostFormValue("where"))

	features := []interface{}{}
	for _, f := range s.features {
		if f.uid() == uid {
			features = append(features, map[string]interface{}{
				"attributes": map[string]interface{}{"objectid": f.ObjectID, "cotuid": uid},
			})
		}
	}
	writeJSON(w, map[string]interface{}{"features": features})
}

func (s *FeatureServer) add(w http.ResponseWriter, r *http.Request) {
	var results []interface{}
	for _, f := range decodeFeatures(r) {
		oid := s.insert(f.Attributes, f.Geometry)
		results = append(results, map[string]interface{}{"objectId": oid, "success": true})
	}
	writeJSON(w, map[string]interface{}{"addResults": results})
}

func (s *FeatureServer) update(w http.ResponseWriter, r *http.Request) {
	var results []interface{}
	for _, f := range decodeFeatures(r) {
		existing := s.byObjectID(f.Attributes["objectid"])
		if existing == nil {
			results = append(results, map[string]interface{}{
				"success": false,
				"error":   map[string]interface{}{"code": 1019, "description": "Object is missing."},
			})
			continue
		}
		existing.Attributes = f.Attributes
		existing.Geometry = f.Geometry
		results = append(results, map[string]interface{}{"objectId": existing.ObjectID, "success": true})
	}
	writeJSON(w, map[string]interface{}{"updateResults": results})
}

func (s *FeatureServer) delete(w http.ResponseWriter, r *http.Request) {
	uid := uidFromWhere(r.PostFormValue("where"))

	kept := s.features[:0]
	for _, f := range s.features {
		if f.uid() != uid {
			kept = append(kept, f)
		}
	}
	s.features = kept
	writeJSON(w, map[string]interface{}{"success": true})
}

func (s *FeatureServer) insert(attrs, geometry map[string]interface{}) int {
	oid := s.nextOID
	s.nextOID++
	s.features = append(s.features, &Feature{ObjectID: oid, Attributes: attrs, Geometry: geometry})
	return oid
}

func (s *FeatureServer) byObjectID(v interface{}) *Feature {
	for _, f := range s.features {
		if fmt.Sprint(f.ObjectID) == fmt.Sprint(v) {
			return f
		}
	}
	return nil
}

func (f Feature) uid() string {
	return fmt.Sprint(f.Attributes["cotuid"])
}

type wireFeature struct {
	Attributes map[string]interface{} `json:"attributes"`
	Geometry   map[string]interface{} `json:"geometry"`
}

func decodeFeatures(r *http.Request) []wireFeature {
	var fs []wireFeature
	_ = json.Unmarshal([]byte(r.PostFormValue("features")), &fs)
	return fs
}

func uidFromWhere(where string) string {
	m := whereUID.FindStringSubmatch(where)
	if m == nil {
		return ""
	}
	return m[1]
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
