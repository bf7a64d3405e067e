// Package workcache is a memoizing execution engine for build-like
// workflows. A caller names a function, declares the facts it depends on,
// and supplies a body that does the real work; the body only runs when some
// declared or previously discovered fact went stale, otherwise the cached
// result is returned. See internal/engine for the protocol.
package workcache

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/workcache/internal/config"
	"github.com/loykin/workcache/internal/database"
	dbfactory "github.com/loykin/workcache/internal/database/factory"
	"github.com/loykin/workcache/internal/database/jsonfile"
	"github.com/loykin/workcache/internal/engine"
	"github.com/loykin/workcache/internal/facts"
	"github.com/loykin/workcache/internal/freshness"
	"github.com/loykin/workcache/internal/history"
	hfactory "github.com/loykin/workcache/internal/history/factory"
	"github.com/loykin/workcache/internal/logger"
	"github.com/loykin/workcache/internal/metrics"
	"github.com/loykin/workcache/internal/runner"
	"github.com/loykin/workcache/internal/workmap"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type WorkKey = workmap.Key

type WorkMap = workmap.Map

type Record = database.Record

type Store = database.Store

type DatabaseConfig = database.Config

type Context = engine.Context

type Prep = engine.Prep

type Exec = engine.Exec

type Options = engine.Options

type Freshness = freshness.Func

type FreshnessMap = freshness.Map

type HistoryEvent = history.Event

type HistorySink = history.Sink

type Config = cfg.Config

// ErrUnknownKind is returned when an exec call has to judge a fact whose
// kind was never registered.
var ErrUnknownKind = freshness.ErrUnknownKind

// Built-in work kinds.
const (
	KindInputPath  = facts.KindInputPath
	KindOutputPath = facts.KindOutputPath
	KindCall       = facts.KindCall
	KindValue      = facts.KindValue
)

// DefaultFreshness returns the registry covering the built-in kinds. Extend
// it with FreshnessMap.Merge before constructing a Context.
func DefaultFreshness() FreshnessMap { return facts.Default() }

// New opens a Context over a JSON file database at dbPath with the built-in
// freshness kinds. The Context must be closed to flush pending records.
func New(dbPath string) (*Context, error) {
	db, err := jsonfile.New(dbPath)
	if err != nil {
		return nil, err
	}
	return engine.NewContext(db, facts.Default(), Options{}), nil
}

// NewContext assembles a Context from explicit parts, for callers that bring
// their own store, kinds, or sink.
func NewContext(db Store, fresh FreshnessMap, opts Options) *Context {
	return engine.NewContext(db, fresh, opts)
}

// OpenDatabase opens the default JSON file store, for use with NewContext.
func OpenDatabase(path string) (Store, error) { return jsonfile.New(path) }

// OpenDatabaseConfig opens whatever store cfg selects.
func OpenDatabaseConfig(cfg DatabaseConfig) (Store, error) { return dbfactory.New(cfg) }

// LoadConfig reads a TOML config file.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// FromConfig builds the configured store, history sink, and logger, and
// returns a ready Context. The configured logger becomes the slog default.
func FromConfig(c *Config) (*Context, error) {
	lg, _, err := c.Log.New()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(lg)

	db, err := dbfactory.New(c.Database)
	if err != nil {
		return nil, err
	}
	sink, err := hfactory.New(c.History)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return engine.NewContext(db, facts.Default(), Options{
		Logger: lg,
		Cfg:    c.Cfg,
		Sink:   sink,
	}), nil
}

// Run executes the memoization protocol: hit returns the cached result
// without invoking body; miss runs body on its own goroutine and commits
// what it reports. See engine.Run.
func Run[T any](ctx context.Context, p *Prep, body func(context.Context, *Exec) (T, error)) (T, error) {
	return engine.Run(ctx, p, body)
}

// Typed declare/discover helpers over the built-in kinds. They fail at
// declare time when the fact cannot be observed yet, e.g. hashing a path
// that does not exist.

// DeclareInputPath declares a content-hashed file input.
func DeclareInputPath(p *Prep, path string) error {
	ip, err := facts.NewInputPath(path)
	if err != nil {
		return err
	}
	p.DeclareInput(facts.KindInputPath, path, ip.Encode())
	return nil
}

// DeclareValue declares an opaque value that only shapes the cache key.
func DeclareValue(p *Prep, name, value string) {
	p.DeclareInput(facts.KindValue, name, value)
}

// DeclareCall declares a whole command descriptor as one input.
func DeclareCall(p *Prep, call *facts.Call) {
	p.DeclareInput(facts.KindCall, "", call.Encode())
}

// DiscoverInputPath records a content-hashed file dependency found while the
// body runs.
func DiscoverInputPath(e *Exec, path string) error {
	ip, err := facts.NewInputPath(path)
	if err != nil {
		return err
	}
	e.DiscoverInput(facts.KindInputPath, path, ip.Encode())
	return nil
}

// DiscoverOutputPath records a produced artifact; it is existence-checked on
// later runs.
func DiscoverOutputPath(e *Exec, path string) {
	e.DiscoverOutput(facts.KindOutputPath, path, facts.NewOutputPath(path).Encode())
}

// Call describes a cacheable program invocation.
type Call = facts.Call

// NewCall starts a call descriptor by hashing the program binary.
func NewCall(prog string) (*Call, error) { return facts.NewCall(prog) }

// Command is the cached command runner built on Call.
type Command = runner.Command

type RunResult = runner.Result

// NewCommand assembles a cacheable external command.
func NewCommand(prog string) (*Command, error) { return runner.New(prog) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It runs in the caller's goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}

// LoggerConfig re-exports the log setup used by FromConfig for embedders
// that configure logging directly.
type LoggerConfig = logger.Config
