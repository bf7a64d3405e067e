package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loykin/workcache/internal/database"
	"github.com/loykin/workcache/internal/history"
	"github.com/loykin/workcache/internal/metrics"
	"github.com/loykin/workcache/internal/workmap"
)

// Prep accumulates the declared inputs for one invocation of a named
// function. It is not safe for concurrent use; build one per call.
type Prep struct {
	ctx      *Context
	fnName   string
	declared workmap.Map
}

// Body is the computation run on a cache miss. It performs the external
// effect, records discoveries through e, and returns a serializable result.
type Body[T any] func(ctx context.Context, e *Exec) (T, error)

// DeclareInput records a fact known before execution. Declaring the same
// (kind, name) twice overwrites.
func (p *Prep) DeclareInput(kind, name, value string) {
	p.ctx.logger.Debug("declaring input", "fn", p.fnName, "kind", kind, "name", name)
	p.declared.Insert(kind, name, value)
}

// DeclaredInputs returns the (kind, name) pairs declared so far.
func (p *Prep) DeclaredInputs() []workmap.Key { return p.declared.Keys() }

// FnName returns the function name this Prep was built for.
func (p *Prep) FnName() string { return p.fnName }

// Run executes the memoization protocol for p: look up the prior record,
// judge every declared and previously discovered work for freshness, and
// either return the cached result or run body on its own goroutine and
// commit what it reports. A body error or panic commits nothing, so a rerun
// starts from a clean miss.
func Run[T any](ctx context.Context, p *Prep, body Body[T]) (T, error) {
	var zero T
	raw, err := p.exec(ctx, func(ctx context.Context, e *Exec) (json.RawMessage, error) {
		v, err := body(ctx, e)
		if err != nil {
			return nil, err
		}
		out, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode result of %s: %w", p.fnName, err)
		}
		return out, nil
	})
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, fmt.Errorf("decode cached result of %s: %w", p.fnName, err)
	}
	return v, nil
}

type outcome struct {
	exec   *Exec
	result json.RawMessage
	err    error
}

// exec is the untyped protocol core. The happens-before order within one
// call is fixed: declared inputs are complete, then lookup, then either a
// fresh hit returns the stored result or the body runs to completion and is
// committed. Concurrency across calls is the caller's business; Context is
// shareable.
func (p *Prep) exec(ctx context.Context, body func(context.Context, *Exec) (json.RawMessage, error)) (json.RawMessage, error) {
	start := time.Now()
	key := database.Key(p.fnName, p.declared)
	digest := database.KeyDigest(key)

	rec, found, err := p.ctx.db.Lookup(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", p.fnName, err)
	}
	if found {
		fresh, err := p.recordFresh(rec)
		if err != nil {
			return nil, err
		}
		if fresh {
			p.ctx.logger.Info("cache hit", "fn", p.fnName, "key", digest)
			metrics.IncHit(p.fnName)
			p.emit(ctx, digest, history.OutcomeHit, time.Since(start), nil)
			metrics.ObserveExec(p.fnName, "hit", time.Since(start))
			return rec.Result, nil
		}
	}

	p.ctx.logger.Info("cache miss", "fn", p.fnName, "key", digest)
	metrics.IncMiss(p.fnName)

	// The body runs decoupled from the caller's goroutine so a panic is
	// contained and reported as an ordinary failure.
	ch := make(chan outcome, 1)
	go func() {
		e := newExec()
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{exec: e, err: fmt.Errorf("%s: body panicked: %v", p.fnName, r)}
			}
		}()
		res, err := body(ctx, e)
		ch <- outcome{exec: e, result: res, err: err}
	}()
	out := <-ch

	if out.err != nil {
		metrics.IncFailure(p.fnName)
		p.emit(ctx, digest, history.OutcomeFailure, time.Since(start), out.err)
		metrics.ObserveExec(p.fnName, "failure", time.Since(start))
		return nil, out.err
	}

	discIn, discOut := out.exec.snapshot()
	newRec := database.Record{
		DiscoveredInputs:  discIn,
		DiscoveredOutputs: discOut,
		Result:            out.result,
	}
	if err := p.ctx.db.Put(ctx, key, newRec); err != nil {
		return nil, fmt.Errorf("commit %s: %w", p.fnName, err)
	}
	p.ctx.logger.Debug("cached result", "fn", p.fnName, "key", digest,
		"discovered_inputs", discIn.Len(), "discovered_outputs", discOut.Len())
	p.emit(ctx, digest, history.OutcomeMiss, time.Since(start), nil)
	metrics.ObserveExec(p.fnName, "miss", time.Since(start))
	return out.result, nil
}

// recordFresh applies the freshness predicates to the current declared
// inputs and to the prior record's discovered inputs and outputs, in that
// order. All three groups must be entirely fresh: unchanged declared inputs
// say nothing about a header the build pulled in or an artifact the user
// deleted.
func (p *Prep) recordFresh(rec database.Record) (bool, error) {
	groups := []struct {
		cat string
		m   workmap.Map
	}{
		{"declared input", p.declared},
		{"discovered input", rec.DiscoveredInputs},
		{"discovered output", rec.DiscoveredOutputs},
	}
	for _, g := range groups {
		ok, err := p.allFresh(g.cat, g.m)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (p *Prep) allFresh(cat string, m workmap.Map) (bool, error) {
	fresh := true
	var checkErr error
	m.Walk(func(name, kind, value string) bool {
		ok, err := p.ctx.fresh.Check(kind, name, value)
		if err != nil {
			checkErr = fmt.Errorf("%s: %w", p.fnName, err)
			return false
		}
		if ok {
			p.ctx.logger.Debug("fresh", "cat", cat, "kind", kind, "name", name)
			return true
		}
		p.ctx.logger.Info("not fresh", "cat", cat, "kind", kind, "name", name)
		fresh = false
		return false
	})
	if checkErr != nil {
		return false, checkErr
	}
	return fresh, nil
}

func (p *Prep) emit(ctx context.Context, digest string, o history.Outcome, d time.Duration, execErr error) {
	if p.ctx.sink == nil {
		return
	}
	e := history.Event{
		FnName:     p.fnName,
		KeyDigest:  digest,
		Outcome:    o,
		Duration:   d,
		OccurredAt: time.Now().UTC(),
	}
	if execErr != nil {
		e.Error = execErr.Error()
	}
	if err := p.ctx.sink.Send(ctx, e); err != nil {
		p.ctx.logger.Warn("history sink send failed", "fn", p.fnName, "error", err)
	}
}
