// Package jsonfile implements the default store: a single human-inspectable
// JSON file, loaded eagerly and fully on open, written back on flush.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/loykin/workcache/internal/database"
)

// fileFormat is the on-disk shape. Entries map cache key -> encoded record.
type fileFormat struct {
	Schema  int                        `json:"schema"`
	Entries map[string]json.RawMessage `json:"entries"`
}

// Store keeps the whole database in memory behind a RWMutex. Lookups may run
// in parallel; Put and Flush take the write lock.
type Store struct {
	mu      sync.RWMutex
	path    string
	entries map[string]database.Record
	dirty   bool
	closed  bool
}

// New opens or creates a store file at path. An existing file is loaded
// eagerly; unreadable content is a hard error because partial cache state
// cannot be trusted. A file written by a different schema version is treated
// as empty.
func New(path string) (*Store, error) {
	s := &Store{
		path:    path,
		entries: make(map[string]database.Record),
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load workcache database %s: %w", path, err)
	}
	var ff fileFormat
	if err := json.Unmarshal(raw, &ff); err != nil {
		return nil, fmt.Errorf("parse workcache database %s: %w", path, err)
	}
	if ff.Schema != database.SchemaVersion {
		// Old-schema records would produce unsound freshness checks; a miss
		// only costs recomputation.
		s.dirty = true
		return s, nil
	}
	for k, v := range ff.Entries {
		rec, err := database.DecodeRecord(v)
		if err != nil {
			return nil, fmt.Errorf("parse workcache database %s: record %q: %w", path, k, err)
		}
		s.entries[k] = rec
	}
	return s, nil
}

func (s *Store) Lookup(_ context.Context, key string) (database.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.entries[key]
	return rec, ok, nil
}

func (s *Store) Put(_ context.Context, key string, rec database.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = rec
	s.dirty = true
	return nil
}

func (s *Store) Walk(_ context.Context, fn func(key string, rec database.Record) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, rec := range s.entries {
		if !fn(k, rec) {
			return nil
		}
	}
	return nil
}

// Flush serializes the in-memory map if dirty. It writes to a temp file in
// the same directory and renames it into place, so a crash mid-write leaves
// the previous content intact.
func (s *Store) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if !s.dirty {
		return nil
	}
	ff := fileFormat{
		Schema:  database.SchemaVersion,
		Entries: make(map[string]json.RawMessage, len(s.entries)),
	}
	for k, rec := range s.entries {
		raw, err := database.EncodeRecord(rec)
		if err != nil {
			return fmt.Errorf("encode workcache record %q: %w", k, err)
		}
		ff.Entries[k] = raw
	}
	raw, err := json.MarshalIndent(&ff, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("save workcache database %s: %w", s.path, err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("save workcache database %s: %w", s.path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("save workcache database %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("save workcache database %s: %w", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("save workcache database %s: %w", s.path, err)
	}
	s.dirty = false
	return nil
}

// Close flushes pending writes. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.flushLocked()
}

// Len reports the number of records, for stats and tests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
