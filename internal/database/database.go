// Package database defines the durable record store behind the cache: one
// record per (function name, declared inputs) pair, holding what the last
// run discovered and returned.
package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/loykin/workcache/internal/workmap"
)

// SchemaVersion tags persisted state. A store opened against a different
// version treats its prior content as empty; a schema change only ever costs
// recomputation.
const SchemaVersion = 1

// Record is the value cached for one function invocation: everything the
// last run discovered plus its serialized result.
type Record struct {
	DiscoveredInputs  workmap.Map     `json:"discovered_inputs"`
	DiscoveredOutputs workmap.Map     `json:"discovered_outputs"`
	Result            json.RawMessage `json:"result"`
}

// Store is the persistence interface for cache records. Implementations must
// be safe for concurrent use; Put must be atomic with respect to Lookup (a
// reader never observes a half-written record).
type Store interface {
	// Lookup returns the record for key. Absence is not an error; it just
	// means the function was never computed for these inputs.
	Lookup(ctx context.Context, key string) (Record, bool, error)
	// Put overwrites any existing record for key.
	Put(ctx context.Context, key string, rec Record) error
	// Walk visits every (key, record) pair. Returning false stops the walk.
	// Visit order is unspecified.
	Walk(ctx context.Context, fn func(key string, rec Record) bool) error
	// Flush persists pending state. Write-through stores treat it as a no-op.
	Flush(ctx context.Context) error
	// Close flushes pending state and releases resources.
	Close() error
}

// Key builds the canonical cache key for a function name and its declared
// inputs. The layout is written out explicitly so the bytes are stable
// across runs and encoder versions.
func Key(fnName string, declared workmap.Map) string {
	b := make([]byte, 0, 64)
	b = append(b, `{"fn":`...)
	fn, _ := json.Marshal(fnName)
	b = append(b, fn...)
	b = append(b, `,"inputs":`...)
	b = declared.EncodeCanonical(b)
	b = append(b, '}')
	return string(b)
}

// KeyDigest is the sha256 hex of a cache key, used as a compact primary key
// by the SQL backends and as a short handle in logs.
func KeyDigest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// EncodeRecord and DecodeRecord fix the stored value format shared by all
// backends.
func EncodeRecord(rec Record) ([]byte, error) {
	if rec.DiscoveredInputs == nil {
		rec.DiscoveredInputs = workmap.New()
	}
	if rec.DiscoveredOutputs == nil {
		rec.DiscoveredOutputs = workmap.New()
	}
	return json.Marshal(rec)
}

func DecodeRecord(raw []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, err
	}
	if rec.DiscoveredInputs == nil {
		rec.DiscoveredInputs = workmap.New()
	}
	if rec.DiscoveredOutputs == nil {
		rec.DiscoveredOutputs = workmap.New()
	}
	return rec, nil
}
