package freshness

import (
	"errors"
	"testing"
)

func TestCheckUnknownKind(t *testing.T) {
	m := Map{"file": func(string, string) bool { return true }}
	_, err := m.Check("url", "foo.com", "etag")
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestCheckDispatch(t *testing.T) {
	var gotName, gotValue string
	m := Map{
		"file": func(name, value string) bool {
			gotName, gotValue = name, value
			return false
		},
	}
	ok, err := m.Check("file", "a.c", "digest")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ok {
		t.Fatalf("predicate result not propagated")
	}
	if gotName != "a.c" || gotValue != "digest" {
		t.Fatalf("predicate got (%q, %q)", gotName, gotValue)
	}
}

func TestMerge(t *testing.T) {
	base := Map{
		"file": func(string, string) bool { return true },
		"url":  func(string, string) bool { return true },
	}
	merged := base.Merge(Map{
		"url": func(string, string) bool { return false },
	})
	if ok, _ := merged.Check("url", "n", "v"); ok {
		t.Fatalf("override not applied")
	}
	if ok, _ := merged.Check("file", "n", "v"); !ok {
		t.Fatalf("base entry lost")
	}
	// base must be untouched
	if ok, _ := base.Check("url", "n", "v"); !ok {
		t.Fatalf("merge mutated the receiver")
	}
}
