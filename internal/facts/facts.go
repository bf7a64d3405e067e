// Package facts provides the built-in work kinds: content-hashed input
// paths, existence-checked output paths, composite command descriptors, and
// opaque values that only participate in the cache key.
package facts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/loykin/workcache/internal/freshness"
)

// Kind names used with declare/discover calls.
const (
	KindInputPath  = "input_path"
	KindOutputPath = "output_path"
	KindCall       = "call"
	KindValue      = "value"
)

// InputPath records a file by content digest. Modified is informational
// only: a touch without an edit must not force a rebuild, and clock skew
// must not fake one.
type InputPath struct {
	Path     string `json:"path"`
	Digest   string `json:"digest"`
	Modified int64  `json:"modified"`
}

// NewInputPath hashes the file at path. It fails when the fact cannot be
// observed, e.g. the path does not exist yet.
func NewInputPath(path string) (InputPath, error) {
	digest, err := digestPath(path)
	if err != nil {
		return InputPath{}, err
	}
	st, err := os.Stat(path)
	if err != nil {
		return InputPath{}, err
	}
	return InputPath{
		Path:     path,
		Digest:   digest,
		Modified: st.ModTime().UnixNano(),
	}, nil
}

// IsFresh reports whether the path still exists with the same content.
func (p InputPath) IsFresh() bool {
	digest, err := digestPath(p.Path)
	if err != nil {
		return false
	}
	return digest == p.Digest
}

// Encode serializes the fact for use as a work value.
func (p InputPath) Encode() string { return mustEncode(p) }

// OutputPath records a produced artifact. Freshness is existence only: an
// output is stale when it vanished, not when its bytes changed, because only
// input changes trigger recomputation.
type OutputPath struct {
	Path string `json:"path"`
}

func NewOutputPath(path string) OutputPath { return OutputPath{Path: path} }

func (p OutputPath) IsFresh() bool {
	_, err := os.Stat(p.Path)
	return err == nil
}

func (p OutputPath) Encode() string { return mustEncode(p) }

// CallArg is one token of a command line: exactly one arm is set. Literal
// strings are always fresh (they are part of the cache key); input paths
// carry a content digest; output paths are existence-checked.
type CallArg struct {
	Str    *string     `json:"str,omitempty"`
	Input  *InputPath  `json:"input,omitempty"`
	Output *OutputPath `json:"output,omitempty"`
}

func StrArg(s string) CallArg        { return CallArg{Str: &s} }
func InputArg(p InputPath) CallArg   { return CallArg{Input: &p} }
func OutputArg(p OutputPath) CallArg { return CallArg{Output: &p} }

func (a CallArg) isFresh() bool {
	switch {
	case a.Str != nil:
		return true
	case a.Input != nil:
		return a.Input.IsFresh()
	case a.Output != nil:
		return a.Output.IsFresh()
	default:
		return false
	}
}

func (a CallArg) render() string {
	switch {
	case a.Str != nil:
		return *a.Str
	case a.Input != nil:
		return a.Input.Path
	case a.Output != nil:
		return a.Output.Path
	default:
		return ""
	}
}

// Call describes a program invocation: the program itself is an input-path
// fact, each argument a CallArg. The whole call is fresh iff every nested
// fact is fresh.
type Call struct {
	Prog InputPath `json:"prog"`
	Args []CallArg `json:"args"`
}

// NewCall hashes the program binary at prog.
func NewCall(prog string) (*Call, error) {
	p, err := NewInputPath(prog)
	if err != nil {
		return nil, fmt.Errorf("call program %s: %w", prog, err)
	}
	return &Call{Prog: p}, nil
}

// PushStr appends a literal argument.
func (c *Call) PushStr(s string) { c.Args = append(c.Args, StrArg(s)) }

// PushInputPath appends a content-hashed input path argument.
func (c *Call) PushInputPath(path string) error {
	p, err := NewInputPath(path)
	if err != nil {
		return err
	}
	c.Args = append(c.Args, InputArg(p))
	return nil
}

// PushOutputPath appends an output path argument.
func (c *Call) PushOutputPath(path string) {
	c.Args = append(c.Args, OutputArg(NewOutputPath(path)))
}

func (c *Call) IsFresh() bool {
	if !c.Prog.IsFresh() {
		return false
	}
	for _, a := range c.Args {
		if !a.isFresh() {
			return false
		}
	}
	return true
}

// Command renders the program and argv for execution.
func (c *Call) Command() (string, []string) {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.render()
	}
	return c.Prog.Path, args
}

func (c *Call) Encode() string { return mustEncode(c) }

// Default returns the freshness registry with all built-in kinds. Values
// that no longer decode evaluate not-fresh, which forces a recompute that
// re-records a well-formed value.
func Default() freshness.Map {
	return freshness.Map{
		KindInputPath: func(_ string, value string) bool {
			var p InputPath
			if err := json.Unmarshal([]byte(value), &p); err != nil {
				return false
			}
			return p.IsFresh()
		},
		KindOutputPath: func(_ string, value string) bool {
			var p OutputPath
			if err := json.Unmarshal([]byte(value), &p); err != nil {
				return false
			}
			return p.IsFresh()
		},
		KindCall: func(_ string, value string) bool {
			var c Call
			if err := json.Unmarshal([]byte(value), &c); err != nil {
				return false
			}
			return c.IsFresh()
		},
		// Opaque values only contribute to the cache key; changing the text
		// changes the key itself.
		KindValue: func(string, string) bool { return true },
	}
}

func digestPath(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func mustEncode(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		// All fact types are plain data; Marshal cannot fail on them.
		panic(err)
	}
	return string(raw)
}
