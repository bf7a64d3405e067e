package engine

import (
	"sync"

	"github.com/loykin/workcache/internal/workmap"
)

// Exec is the handle a running body uses to record the works it touches and
// produces. One is created fresh per miss; its contents become part of the
// committed record. Safe for concurrent use so a body may fan out internally.
type Exec struct {
	mu                sync.Mutex
	discoveredInputs  workmap.Map
	discoveredOutputs workmap.Map
}

func newExec() *Exec {
	return &Exec{
		discoveredInputs:  workmap.New(),
		discoveredOutputs: workmap.New(),
	}
}

// DiscoverInput records a fact the body depends on that was not knowable at
// declare time, e.g. a transitively included header.
func (e *Exec) DiscoverInput(kind, name, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.discoveredInputs.Insert(kind, name, value)
}

// DiscoverOutput records an artifact the body produced. Its freshness is
// checked before the cached result is ever reused.
func (e *Exec) DiscoverOutput(kind, name, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.discoveredOutputs.Insert(kind, name, value)
}

// DiscoveredInputs returns the (kind, name) pairs recorded so far.
func (e *Exec) DiscoveredInputs() []workmap.Key {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.discoveredInputs.Keys()
}

// DiscoveredOutputs returns the (kind, name) pairs recorded so far.
func (e *Exec) DiscoveredOutputs() []workmap.Key {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.discoveredOutputs.Keys()
}

func (e *Exec) snapshot() (workmap.Map, workmap.Map) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.discoveredInputs.Clone(), e.discoveredOutputs.Clone()
}
