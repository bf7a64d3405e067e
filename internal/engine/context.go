// Package engine implements the memoizing execution protocol: a named
// function with declared inputs either returns its cached result or runs,
// recording what it discovers along the way.
//
// A cached function consumes and produces works. A work has a kind (which
// selects the freshness predicate), a name, and a serialized value. Declared
// inputs are known before the body runs and form the cache key together with
// the function name. Discovered inputs and outputs are recorded by the body
// itself and re-recorded on every run; the previous run's discoveries are
// checked for freshness before a cached result is reused. The discovered
// sets may lag reality between runs, which is sound: a change in what a
// function depends on implies a change in some input it already declared or
// discovered.
package engine

import (
	"context"
	"log/slog"

	"github.com/loykin/workcache/internal/database"
	"github.com/loykin/workcache/internal/freshness"
	"github.com/loykin/workcache/internal/history"
	"github.com/loykin/workcache/internal/metrics"
	"github.com/loykin/workcache/internal/workmap"
)

// Context bundles the record store, logger, static configuration, and the
// freshness registry. It is shared by pointer: every Prep derived from it
// reads and commits through the same store. Safe for concurrent use; the
// store carries its own locking, and cfg/freshness are immutable after
// construction.
type Context struct {
	db     database.Store
	logger *slog.Logger
	cfg    map[string]string
	fresh  freshness.Map
	sink   history.Sink
}

// Options configures optional Context collaborators.
type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Cfg is a static string map exposed to callers via Cfg; the engine
	// itself never interprets it.
	Cfg map[string]string
	// Sink receives one audit event per exec call, best-effort.
	Sink history.Sink
}

// NewContext builds a Context over db with the given freshness registry.
// The registry must cover every kind the caller will ever declare or
// discover; checking an unregistered kind fails the exec call.
func NewContext(db database.Store, fresh freshness.Map, opts Options) *Context {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Cfg
	if cfg == nil {
		cfg = map[string]string{}
	}
	return &Context{
		db:     db,
		logger: logger,
		cfg:    cfg,
		fresh:  fresh,
		sink:   opts.Sink,
	}
}

// Prep starts declaring inputs for one invocation of fnName.
func (c *Context) Prep(fnName string) *Prep {
	return &Prep{ctx: c, fnName: fnName, declared: workmap.New()}
}

// Cfg returns the static configuration value for key.
func (c *Context) Cfg(key string) (string, bool) {
	v, ok := c.cfg[key]
	return v, ok
}

// Database exposes the underlying store, for stats and verification tools.
func (c *Context) Database() database.Store { return c.db }

// Flush persists pending store state.
func (c *Context) Flush(ctx context.Context) error {
	if err := c.db.Flush(ctx); err != nil {
		return err
	}
	metrics.IncFlush()
	return nil
}

// Close flushes and closes the store and the history sink.
func (c *Context) Close() error {
	err := c.db.Close()
	if c.sink != nil {
		if cerr := c.sink.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
