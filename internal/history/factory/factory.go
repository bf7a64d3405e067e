// Package factory builds a history.Sink from configuration.
package factory

import (
	"fmt"

	"github.com/loykin/workcache/internal/history"
	"github.com/loykin/workcache/internal/history/clickhouse"
)

// Config selects a history sink. An empty type disables history.
type Config struct {
	Type  string `toml:"type" mapstructure:"type"` // "slog", "sql", "clickhouse"
	DSN   string `toml:"dsn,omitempty" mapstructure:"dsn"`
	Table string `toml:"table,omitempty" mapstructure:"table"`
}

// New creates the configured sink; (nil, nil) when history is disabled.
func New(cfg Config) (history.Sink, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "slog":
		return history.SlogSink{}, nil
	case "sql":
		return history.NewSQLSinkFromDSN(cfg.DSN)
	case "clickhouse":
		return clickhouse.New(cfg.DSN, cfg.Table)
	default:
		return nil, fmt.Errorf("unsupported history sink type: %s (supported: slog, sql, clickhouse)", cfg.Type)
	}
}
