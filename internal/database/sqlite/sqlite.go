// Package sqlite implements a write-through record store on SQLite
// (modernc.org/sqlite driver, CGO-free).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/workcache/internal/database"
)

// Store persists one row per cache key. Every Put commits immediately, so
// Flush is a no-op; SQLite provides the crash safety the JSON file gets from
// rename-into-place.
type Store struct {
	db    *sql.DB
	table string
}

// New opens a SQLite database at path. Use ":memory:" for tests. A schema
// version mismatch drops prior records; they only cost recomputation.
func New(path, tablePrefix string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	s := &Store{db: d, table: tablePrefix + "work_record"}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	var ver int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&ver); err != nil {
		return err
	}
	if ver != 0 && ver != database.SchemaVersion {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.table+";"); err != nil {
			return err
		}
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s(
			key_digest TEXT PRIMARY KEY,
			cache_key TEXT NOT NULL,
			record TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`, s.table),
		fmt.Sprintf("PRAGMA user_version=%d;", database.SchemaVersion),
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Lookup(ctx context.Context, key string) (database.Record, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT record FROM "+s.table+" WHERE key_digest=?;",
		database.KeyDigest(key)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return database.Record{}, false, nil
	}
	if err != nil {
		return database.Record{}, false, err
	}
	rec, err := database.DecodeRecord(raw)
	if err != nil {
		return database.Record{}, false, fmt.Errorf("decode record for key %q: %w", key, err)
	}
	return rec, true, nil
}

func (s *Store) Put(ctx context.Context, key string, rec database.Record) error {
	raw, err := database.EncodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO `+s.table+`(key_digest, cache_key, record, updated_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(key_digest) DO UPDATE SET
			record=excluded.record,
			updated_at=excluded.updated_at;`,
		database.KeyDigest(key), key, string(raw), time.Now().UTC())
	return err
}

func (s *Store) Walk(ctx context.Context, fn func(key string, rec database.Record) bool) error {
	rows, err := s.db.QueryContext(ctx, "SELECT cache_key, record FROM "+s.table+";")
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return err
		}
		rec, err := database.DecodeRecord(raw)
		if err != nil {
			return fmt.Errorf("decode record for key %q: %w", key, err)
		}
		if !fn(key, rec) {
			break
		}
	}
	return rows.Err()
}

// Flush is a no-op; Put writes through.
func (s *Store) Flush(context.Context) error { return nil }

func (s *Store) Close() error { return s.db.Close() }
