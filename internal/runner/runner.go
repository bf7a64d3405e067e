// Package runner is the thin collaborator layer over the engine for caching
// external command invocations: the command line (program digest, literal
// flags, hashed input paths, output paths) is declared as a single call
// fact, and the subprocess only runs when some part of it went stale.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/loykin/workcache/internal/engine"
	"github.com/loykin/workcache/internal/facts"
)

// Result is what a cached run returns, hit or miss.
type Result struct {
	Prog    string   `json:"prog"`
	Args    []string `json:"args"`
	Outputs []string `json:"outputs"`
}

// Command assembles one cacheable invocation.
type Command struct {
	call    *facts.Call
	outputs []string
	env     []string
	workDir string
}

// New hashes the program binary; it fails if prog cannot be read.
func New(prog string) (*Command, error) {
	call, err := facts.NewCall(prog)
	if err != nil {
		return nil, err
	}
	return &Command{call: call}, nil
}

// Arg appends a literal argument token.
func (c *Command) Arg(s string) *Command {
	c.call.PushStr(s)
	return c
}

// InputArg appends a content-hashed input path argument. The error is
// reported at declare time: an input that cannot be hashed is malformed
// before any work runs.
func (c *Command) InputArg(path string) error {
	return c.call.PushInputPath(path)
}

// OutputArg appends an output path argument; the path is also recorded as a
// discovered output when the command runs.
func (c *Command) OutputArg(path string) *Command {
	c.call.PushOutputPath(path)
	c.outputs = append(c.outputs, path)
	return c
}

// Env sets the subprocess environment ("K=V" entries, nil inherits).
func (c *Command) Env(env []string) *Command {
	c.env = env
	return c
}

// Dir sets the subprocess working directory.
func (c *Command) Dir(dir string) *Command {
	c.workDir = dir
	return c
}

// Run executes the command through the cache. The function name is
// "run:<prog>"; the declared input is the whole call descriptor, so any
// change to the program, a flag, or a hashed input forces a rerun, as does a
// missing output.
func (c *Command) Run(ctx context.Context, wc *engine.Context) (Result, error) {
	prog, args := c.call.Command()
	prep := wc.Prep("run:" + prog)
	prep.DeclareInput(facts.KindCall, "", c.call.Encode())

	return engine.Run(ctx, prep, func(ctx context.Context, e *engine.Exec) (Result, error) {
		cmd := exec.CommandContext(ctx, prog, args...)
		cmd.Dir = c.workDir
		if c.env != nil {
			cmd.Env = c.env
		}
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return Result{}, fmt.Errorf("run %s: %w: %s", prog, err, strings.TrimSpace(stderr.String()))
		}
		for _, out := range c.outputs {
			e.DiscoverOutput(facts.KindOutputPath, out, facts.NewOutputPath(out).Encode())
		}
		return Result{Prog: prog, Args: args, Outputs: c.outputs}, nil
	})
}
