// Package freshness maps work kinds to the predicate deciding whether a
// recorded fact still holds. The registry is fixed at Context construction;
// evaluating a kind nobody registered is a configuration error, because an
// un-checkable fact would make the whole cache unsound.
package freshness

import (
	"errors"
	"fmt"
)

// ErrUnknownKind reports a freshness check against an unregistered kind.
var ErrUnknownKind = errors.New("no freshness function registered")

// Func decides whether the fact recorded as (name, value) is still true now.
type Func func(name, value string) bool

// Map is the registry from kind to predicate. It must not be mutated after
// the Context holding it is built.
type Map map[string]Func

// Check runs the predicate registered for kind.
func (m Map) Check(kind, name, value string) (bool, error) {
	fn, ok := m[kind]
	if !ok {
		return false, fmt.Errorf("%w for kind %q (name %q)", ErrUnknownKind, kind, name)
	}
	return fn(name, value), nil
}

// Merge returns a copy of m with overrides applied on top.
func (m Map) Merge(overrides Map) Map {
	out := make(Map, len(m)+len(overrides))
	for k, fn := range m {
		out[k] = fn
	}
	for k, fn := range overrides {
		out[k] = fn
	}
	return out
}
