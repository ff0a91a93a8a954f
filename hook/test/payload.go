package test

import (
	"encoding/json"
	"strings"
	"time"
)

type Payload map[string]interface{}

// NewPayload returns a well-formed hook message for the given layer, with a
// token valid for the next hour.
func NewPayload(layerURL string) Payload {
	return Payload{
		"id":   float64(42),
		"type": "create",
		"feat": map[string]interface{}{
			"type": "Feature",
			"id":   "ANDROID-1234",
			"properties": map[string]interface{}{
				"callsign": "Ingalls Test CoT",
				"type":     "a-f-G-E-V-C",
				"how":      "m-g",
			},
			"geometry": map[string]interface{}{
				"type":        "Point",
				"coordinates": []interface{}{-108.63009398166237, 38.99509004827766},
			},
		},
		"body": map[string]interface{}{
			"url":      "http://example.org/server",
			"username": "",
			"password": "",
			"layer":    layerURL,
		},
		"secrets": map[string]interface{}{
			"token":   "fake-token",
			"expires": float64(time.Now().Add(time.Hour).Unix()),
			"referer": "http://example.org",
		},
		"options": map[string]interface{}{
			"logging": false,
		},
	}
}

// Set replaces the value at a dotted path, e.g. "secrets.expires".
func (p Payload) Set(path string, v interface{}) Payload {
	parent, key := p.walk(path)
	if parent != nil {
		parent[key] = v
	}
	return p
}

// Without removes the value at a dotted path.
func (p Payload) Without(path string) Payload {
	parent, key := p.walk(path)
	if parent != nil {
		delete(parent, key)
	}
	return p
}

func (p Payload) Bytes() []byte {
	b, err := json.Marshal(p)
	if err != nil {
		panic(err)
	}
	return b
}

func (p Payload) walk(path string) (map[string]interface{}, string) {
	parts := strings.Split(path, ".")
	cur := map[string]interface{}(p)
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]interface{})
		if !ok {
			return nil, ""
		}
		cur = next
	}
	return cur, parts[len(parts)-1]
}
