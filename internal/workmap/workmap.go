// Package workmap holds the ordered (kind, name) -> value bookkeeping used
// for declared and discovered works. Two maps with the same logical content
// must encode to identical bytes, because the encoding participates in cache
// keys.
package workmap

import (
	"encoding/json"
	"sort"
	"strings"
)

// Key identifies a single work: Kind selects the freshness predicate,
// Name disambiguates works of the same kind (typically a file path).
type Key struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// KindMap maps kind -> serialized value for one name.
type KindMap map[string]string

// Map is a two-level mapping name -> kind -> serialized value.
// At most one value exists per (kind, name); re-insertion overwrites.
type Map map[string]KindMap

func New() Map { return make(Map) }

// Insert sets the value for (kind, name), last write wins.
func (m Map) Insert(kind, name, value string) {
	km, ok := m[name]
	if !ok {
		km = make(KindMap)
		m[name] = km
	}
	km[kind] = value
}

// Lookup returns the value stored for (kind, name).
func (m Map) Lookup(kind, name string) (string, bool) {
	km, ok := m[name]
	if !ok {
		return "", false
	}
	v, ok := km[kind]
	return v, ok
}

// Len counts (kind, name) pairs.
func (m Map) Len() int {
	n := 0
	for _, km := range m {
		n += len(km)
	}
	return n
}

// Walk visits every (name, kind, value) triple sorted by name then kind.
// Returning false stops the walk.
func (m Map) Walk(fn func(name, kind, value string) bool) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		km := m[name]
		kinds := make([]string, 0, len(km))
		for kind := range km {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			if !fn(name, kind, km[kind]) {
				return
			}
		}
	}
}

// Keys returns every (kind, name) pair in walk order.
func (m Map) Keys() []Key {
	ks := make([]Key, 0, m.Len())
	m.Walk(func(name, kind, _ string) bool {
		ks = append(ks, Key{Kind: kind, Name: name})
		return true
	})
	return ks
}

// Clone returns a deep copy.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for name, km := range m {
		ckm := make(KindMap, len(km))
		for kind, v := range km {
			ckm[kind] = v
		}
		out[name] = ckm
	}
	return out
}

// EncodeCanonical appends the canonical JSON encoding of the map to b and
// returns the result. The object layout is written out explicitly with both
// levels sorted, so the bytes never depend on encoder incidentals.
func (m Map) EncodeCanonical(b []byte) []byte {
	b = append(b, '{')
	first := true
	var prevName string
	m.Walk(func(name, kind, value string) bool {
		if first || name != prevName {
			if !first {
				b = append(b, '}', ',')
			}
			b = appendJSONString(b, name)
			b = append(b, ':', '{')
		} else {
			b = append(b, ',')
		}
		b = appendJSONString(b, kind)
		b = append(b, ':')
		b = appendJSONString(b, value)
		prevName = name
		first = false
		return true
	})
	if !first {
		b = append(b, '}')
	}
	b = append(b, '}')
	return b
}

// String renders the canonical encoding, mostly for logs and tests.
func (m Map) String() string {
	return string(m.EncodeCanonical(nil))
}

func appendJSONString(b []byte, s string) []byte {
	if strings.ContainsFunc(s, needsEscape) {
		raw, _ := json.Marshal(s) // marshaling a string cannot fail
		return append(b, raw...)
	}
	b = append(b, '"')
	b = append(b, s...)
	b = append(b, '"')
	return b
}

func needsEscape(r rune) bool {
	return r == '"' || r == '\\' || r < 0x20 || r > 0x7e
}
