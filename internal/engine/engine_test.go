package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/workcache/internal/database/jsonfile"
	"github.com/loykin/workcache/internal/facts"
	"github.com/loykin/workcache/internal/freshness"
)

func newTestContext(t *testing.T, dbPath string) *Context {
	t.Helper()
	db, err := jsonfile.New(dbPath)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	c := NewContext(db, facts.Default(), Options{})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func declarePath(t *testing.T, p *Prep, path string) {
	t.Helper()
	ip, err := facts.NewInputPath(path)
	if err != nil {
		t.Fatalf("hash %s: %v", path, err)
	}
	p.DeclareInput(facts.KindInputPath, path, ip.Encode())
}

func TestHitReturnsCachedResultWithoutRunningBody(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	out := filepath.Join(dir, "a.o")
	writeFile(t, src, "int main() { return 0; }")

	c := newTestContext(t, filepath.Join(dir, "db.json"))

	runs := 0
	prep := c.Prep("compile")
	declarePath(t, prep, src)
	got, err := Run(context.Background(), prep, func(_ context.Context, e *Exec) (string, error) {
		runs++
		writeFile(t, out, "obj")
		e.DiscoverOutput(facts.KindOutputPath, out, facts.NewOutputPath(out).Encode())
		if got := e.DiscoveredOutputs(); len(got) != 1 || got[0].Name != out {
			t.Errorf("discovered outputs = %v", got)
		}
		if got := e.DiscoveredInputs(); len(got) != 0 {
			t.Errorf("discovered inputs = %v", got)
		}
		return "R", nil
	})
	if err != nil {
		t.Fatalf("first exec: %v", err)
	}
	if got != "R" || runs != 1 {
		t.Fatalf("first exec: got %q after %d run(s)", got, runs)
	}

	// Identical declared inputs, different body: the cached result must come
	// back and the new body must never run.
	prep2 := c.Prep("compile")
	declarePath(t, prep2, src)
	got2, err := Run(context.Background(), prep2, func(_ context.Context, _ *Exec) (string, error) {
		runs++
		return "R-prime", nil
	})
	if err != nil {
		t.Fatalf("second exec: %v", err)
	}
	if got2 != "R" {
		t.Fatalf("expected cached result R, got %q", got2)
	}
	if runs != 1 {
		t.Fatalf("body ran %d times, expected the second call to hit", runs)
	}
}

func TestMissOnDeclaredInputChange(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	writeFile(t, src, "v1")

	c := newTestContext(t, filepath.Join(dir, "db.json"))

	runs := 0
	once := func() (string, error) {
		prep := c.Prep("compile")
		declarePath(t, prep, src)
		return Run(context.Background(), prep, func(_ context.Context, _ *Exec) (string, error) {
			runs++
			raw, _ := os.ReadFile(src)
			return string(raw), nil
		})
	}

	if _, err := once(); err != nil {
		t.Fatalf("first exec: %v", err)
	}
	writeFile(t, src, "v2")
	got, err := once()
	if err != nil {
		t.Fatalf("second exec: %v", err)
	}
	if runs != 2 {
		t.Fatalf("body ran %d times, expected re-run after input change", runs)
	}
	if got != "v2" {
		t.Fatalf("expected recomputed result, got %q", got)
	}
}

func TestMissOnDiscoveredOutputRemoval(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	out := filepath.Join(dir, "a.o")
	writeFile(t, src, "source")

	c := newTestContext(t, filepath.Join(dir, "db.json"))

	runs := 0
	once := func() error {
		prep := c.Prep("compile")
		declarePath(t, prep, src)
		_, err := Run(context.Background(), prep, func(_ context.Context, e *Exec) (string, error) {
			runs++
			writeFile(t, out, "obj")
			e.DiscoverOutput(facts.KindOutputPath, out, facts.NewOutputPath(out).Encode())
			return "ok", nil
		})
		return err
	}

	if err := once(); err != nil {
		t.Fatalf("first exec: %v", err)
	}
	if err := os.Remove(out); err != nil {
		t.Fatalf("remove output: %v", err)
	}
	if err := once(); err != nil {
		t.Fatalf("second exec: %v", err)
	}
	if runs != 2 {
		t.Fatalf("body ran %d times, expected re-run after output removal", runs)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output not rebuilt: %v", err)
	}
}

func TestMissOnDiscoveredInputChange(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.c")
	hdr := filepath.Join(dir, "a.h")
	writeFile(t, src, "src")
	writeFile(t, hdr, "h1")

	c := newTestContext(t, filepath.Join(dir, "db.json"))

	runs := 0
	once := func() error {
		prep := c.Prep("compile")
		declarePath(t, prep, src)
		_, err := Run(context.Background(), prep, func(_ context.Context, e *Exec) (string, error) {
			runs++
			// The body finds the header while running; it was not declared.
			ip, err := facts.NewInputPath(hdr)
			if err != nil {
				return "", err
			}
			e.DiscoverInput(facts.KindInputPath, hdr, ip.Encode())
			return "ok", nil
		})
		return err
	}

	if err := once(); err != nil {
		t.Fatalf("first exec: %v", err)
	}
	writeFile(t, hdr, "h2")
	if err := once(); err != nil {
		t.Fatalf("second exec: %v", err)
	}
	if runs != 2 {
		t.Fatalf("body ran %d times, expected re-run after discovered input change", runs)
	}
}

func TestNoCommitOnBodyError(t *testing.T) {
	dir := t.TempDir()
	c := newTestContext(t, filepath.Join(dir, "db.json"))

	boom := errors.New("external process exited non-zero")
	prep := c.Prep("failing")
	prep.DeclareInput(facts.KindValue, "flag", "on")
	_, err := Run(context.Background(), prep, func(_ context.Context, _ *Exec) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected body error to propagate, got %v", err)
	}

	// The failed call must look as if it never happened: the rerun misses.
	runs := 0
	prep2 := c.Prep("failing")
	prep2.DeclareInput(facts.KindValue, "flag", "on")
	got, err := Run(context.Background(), prep2, func(_ context.Context, _ *Exec) (string, error) {
		runs++
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if runs != 1 || got != "recovered" {
		t.Fatalf("expected rerun to execute the body, runs=%d got=%q", runs, got)
	}
}

func TestBodyPanicContained(t *testing.T) {
	dir := t.TempDir()
	c := newTestContext(t, filepath.Join(dir, "db.json"))

	prep := c.Prep("panicking")
	prep.DeclareInput(facts.KindValue, "flag", "on")
	_, err := Run(context.Background(), prep, func(_ context.Context, _ *Exec) (string, error) {
		panic("worker blew up")
	})
	if err == nil || !strings.Contains(err.Error(), "worker blew up") {
		t.Fatalf("expected contained panic error, got %v", err)
	}
}

func TestUnregisteredKindIsConfigurationError(t *testing.T) {
	dir := t.TempDir()
	db, err := jsonfile.New(filepath.Join(dir, "db.json"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	// Only the opaque kind is registered; "etag" never is.
	c := NewContext(db, freshness.Map{
		facts.KindValue: func(string, string) bool { return true },
	}, Options{})
	t.Cleanup(func() { _ = c.Close() })

	once := func() (string, error) {
		prep := c.Prep("fetch")
		prep.DeclareInput("etag", "foo.com", "abc123")
		return Run(context.Background(), prep, func(_ context.Context, _ *Exec) (string, error) {
			return "body", nil
		})
	}

	// First call misses without ever judging freshness.
	if _, err := once(); err != nil {
		t.Fatalf("first exec: %v", err)
	}
	// The rerun has a record and must judge the etag kind: configuration error.
	_, err = once()
	if !errors.Is(err, freshness.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestResultSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	dbPath := filepath.Join(dir, "db.json")
	writeFile(t, src, "stable")

	runs := 0
	once := func(c *Context) (string, error) {
		prep := c.Prep("compile")
		declarePath(t, prep, src)
		return Run(context.Background(), prep, func(_ context.Context, _ *Exec) (string, error) {
			runs++
			return "R", nil
		})
	}

	db, err := jsonfile.New(dbPath)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	c := NewContext(db, facts.Default(), Options{})
	if _, err := once(c); err != nil {
		t.Fatalf("first exec: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	c2 := newTestContext(t, dbPath)
	got, err := once(c2)
	if err != nil {
		t.Fatalf("exec after reopen: %v", err)
	}
	if got != "R" || runs != 1 {
		t.Fatalf("expected hit across reopen, got %q runs=%d", got, runs)
	}
}

func TestDeclareOrderDoesNotAffectKey(t *testing.T) {
	dir := t.TempDir()
	c := newTestContext(t, filepath.Join(dir, "db.json"))

	runs := 0
	once := func(reverse bool) error {
		prep := c.Prep("keyed")
		if reverse {
			prep.DeclareInput(facts.KindValue, "b", "2")
			prep.DeclareInput(facts.KindValue, "a", "1")
		} else {
			prep.DeclareInput(facts.KindValue, "a", "1")
			prep.DeclareInput(facts.KindValue, "b", "2")
		}
		_, err := Run(context.Background(), prep, func(_ context.Context, _ *Exec) (int, error) {
			runs++
			return runs, nil
		})
		return err
	}

	if err := once(false); err != nil {
		t.Fatalf("first exec: %v", err)
	}
	if err := once(true); err != nil {
		t.Fatalf("second exec: %v", err)
	}
	if runs != 1 {
		t.Fatalf("declaration order changed the cache key: body ran %d times", runs)
	}
}

func TestConcurrentSiblingCalls(t *testing.T) {
	dir := t.TempDir()
	c := newTestContext(t, filepath.Join(dir, "db.json"))

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(i int) {
			prep := c.Prep("parallel")
			prep.DeclareInput(facts.KindValue, "slot", string(rune('a'+i)))
			_, err := Run(context.Background(), prep, func(_ context.Context, _ *Exec) (int, error) {
				return i, nil
			})
			errs <- err
		}(i)
	}
	for i := 0; i < 8; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent exec: %v", err)
		}
	}
}
