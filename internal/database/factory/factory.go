// Package factory builds a database.Store from configuration.
package factory

import (
	"fmt"

	"github.com/loykin/workcache/internal/database"
	"github.com/loykin/workcache/internal/database/jsonfile"
	"github.com/loykin/workcache/internal/database/postgres"
	"github.com/loykin/workcache/internal/database/sqlite"
)

// New creates a store for cfg. An empty type defaults to jsonfile.
func New(cfg database.Config) (database.Store, error) {
	switch cfg.Type {
	case "", "jsonfile", "json":
		if cfg.Path == "" {
			return nil, fmt.Errorf("jsonfile database requires a path")
		}
		return jsonfile.New(cfg.Path)
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite database requires a path")
		}
		return sqlite.New(cfg.Path, cfg.TablePrefix)
	case "postgres", "postgresql":
		return postgres.New(cfg.DSN, cfg.TablePrefix)
	default:
		return nil, fmt.Errorf("unsupported database type: %s (supported: jsonfile, sqlite, postgres)", cfg.Type)
	}
}
