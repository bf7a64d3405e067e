package runner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/loykin/workcache/internal/database/jsonfile"
	"github.com/loykin/workcache/internal/engine"
	"github.com/loykin/workcache/internal/facts"
)

func newTestContext(t *testing.T) *engine.Context {
	t.Helper()
	db, err := jsonfile.New(filepath.Join(t.TempDir(), "db.json"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	c := engine.NewContext(db, facts.Default(), engine.Options{})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func lookPath(t *testing.T, prog string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix tools not available")
	}
	p, err := exec.LookPath(prog)
	if err != nil {
		t.Skipf("%s not found: %v", prog, err)
	}
	return p
}

func TestCachedCopyRunsOnce(t *testing.T) {
	cp := lookPath(t, "cp")
	dir := t.TempDir()
	src := filepath.Join(dir, "in.txt")
	dst := filepath.Join(dir, "out.txt")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	wc := newTestContext(t)

	build := func() *Command {
		c, err := New(cp)
		if err != nil {
			t.Fatalf("new command: %v", err)
		}
		if err := c.InputArg(src); err != nil {
			t.Fatalf("input arg: %v", err)
		}
		c.OutputArg(dst)
		return c
	}

	if _, err := build().Run(context.Background(), wc); err != nil {
		t.Fatalf("first run: %v", err)
	}
	st1, err := os.Stat(dst)
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}

	// Second identical run must be a hit: the output is not rewritten.
	if _, err := build().Run(context.Background(), wc); err != nil {
		t.Fatalf("second run: %v", err)
	}
	st2, err := os.Stat(dst)
	if err != nil {
		t.Fatalf("output missing after hit: %v", err)
	}
	if !st1.ModTime().Equal(st2.ModTime()) {
		t.Fatalf("output rewritten on what should be a cache hit")
	}

	// Removing the output forces a rerun that recreates it.
	if err := os.Remove(dst); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := build().Run(context.Background(), wc); err != nil {
		t.Fatalf("third run: %v", err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("output not rebuilt: %v", err)
	}
}

func TestFailingCommandCommitsNothing(t *testing.T) {
	sh := lookPath(t, "sh")
	wc := newTestContext(t)

	build := func(exitCode string) *Command {
		c, err := New(sh)
		if err != nil {
			t.Fatalf("new command: %v", err)
		}
		c.Arg("-c").Arg("exit " + exitCode)
		return c
	}

	if _, err := build("1").Run(context.Background(), wc); err == nil {
		t.Fatalf("expected non-zero exit to fail")
	}

	// Nothing was committed, so the same command line runs again.
	if _, err := build("1").Run(context.Background(), wc); err == nil {
		t.Fatalf("expected rerun to execute and fail again")
	}
}

func TestMissingProgram(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "no-such-binary")); err == nil {
		t.Fatalf("expected error hashing a missing program")
	}
}

func TestMissingInputArg(t *testing.T) {
	cp := lookPath(t, "cp")
	c, err := New(cp)
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	if err := c.InputArg(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatalf("expected declare-time error for unreadable input")
	}
}
