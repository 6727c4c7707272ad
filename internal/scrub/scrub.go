// Package scrub redacts deny-listed keys from nested activity payloads.
package scrub

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/austindbirch/activitylogger/internal/config"
)

// Marker replaces every redacted scalar value.
const Marker = "***redacted***"

// Scrub returns a copy of payload in which every scalar leaf whose key matches
// the deny-list, case-insensitively, is replaced by Marker. Maps and lists are
// walked even when their own key matches; only scalars are replaced. Scalar
// list elements take the key of their list. Typed containers and structs are
// walked in their JSON form.
// An empty deny-list returns payload itself.
func Scrub(payload map[string]any, denylist []string) map[string]any {
	deny := fold(denylist)
	if len(deny) == 0 {
		return payload
	}
	return scrubMap(payload, deny)
}

// Scrubber applies one fixed deny-list. Build it once per config snapshot.
type Scrubber struct {
	enabled bool
	deny    map[string]struct{}
}

// New builds a Scrubber from the scrub section of the delivery config.
func New(cfg config.Scrub) Scrubber {
	return Scrubber{enabled: cfg.Enabled, deny: fold(cfg.Denylist)}
}

// Enabled reports whether Apply can change a payload.
func (s Scrubber) Enabled() bool {
	return s.enabled && len(s.deny) > 0
}

// Apply scrubs payload, or returns it unchanged when scrubbing is off.
func (s Scrubber) Apply(payload map[string]any) map[string]any {
	if !s.Enabled() {
		return payload
	}
	return scrubMap(payload, s.deny)
}

func fold(denylist []string) map[string]struct{} {
	deny := make(map[string]struct{}, len(denylist))
	for _, key := range denylist {
		key = strings.ToLower(strings.TrimSpace(key))
		if key != "" {
			deny[key] = struct{}{}
		}
	}
	return deny
}

func scrubMap(in map[string]any, deny map[string]struct{}) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = scrubValue(key, value, deny)
	}
	return out
}

// scrubValue walks maps by their own keys. Scalars in a list are checked
// against the list's key, maps in a list against their own keys.
func scrubValue(key string, value any, deny map[string]struct{}) any {
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]any:
		return scrubMap(v, deny)
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = scrubValue(key, elem, deny)
		}
		return out
	case string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return scrubScalar(key, value, deny)
	}

	if tree, ok := normalize(value); ok {
		switch tree.(type) {
		case nil:
			return nil
		case map[string]any, []any:
			return scrubValue(key, tree, deny)
		}
		return scrubScalar(key, tree, deny)
	}
	return scrubScalar(key, value, deny)
}

func scrubScalar(key string, value any, deny map[string]struct{}) any {
	if _, ok := deny[strings.ToLower(key)]; ok {
		return Marker
	}
	return value
}

// normalize converts typed maps, slices, structs and pointers (url.Values,
// http.Header, tagged structs) into the JSON tree the collector would see.
func normalize(value any) (any, bool) {
	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer, reflect.Interface:
	default:
		return nil, false
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, false
	}
	return tree, true
}
