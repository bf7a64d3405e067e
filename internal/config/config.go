// Package config loads the TOML configuration for an embedded or CLI
// workcache instance.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/loykin/workcache/internal/database"
	hfactory "github.com/loykin/workcache/internal/history/factory"
	"github.com/loykin/workcache/internal/logger"
)

// Config is the top-level TOML structure.
//
//	[database]
//	type = "jsonfile"            # or "sqlite", "postgres"
//	path = "build/db.json"
//
//	[log]
//	level = "info"
//
//	[history]
//	type = "sql"
//	dsn = "sqlite://build/history.db"
//
//	[cfg]                        # free-form static values exposed by Context
//	os = "linux"
type Config struct {
	Database database.Config   `toml:"database" mapstructure:"database"`
	Log      logger.Config     `toml:"log" mapstructure:"log"`
	History  hfactory.Config   `toml:"history" mapstructure:"history"`
	Cfg      map[string]string `toml:"cfg" mapstructure:"cfg"`
}

// Default returns the configuration used when no file is given: a JSON file
// database at path.
func Default(dbPath string) Config {
	return Config{
		Database: database.Config{Type: "jsonfile", Path: dbPath},
	}
}

// Load reads and validates a TOML config file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &c, nil
}

// Validate rejects combinations the factories would fail on later, with
// clearer messages.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "", "jsonfile", "json", "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for type %q", c.Database.Type)
		}
	case "postgres", "postgresql":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for type %q", c.Database.Type)
		}
	default:
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}
	switch c.History.Type {
	case "", "slog":
	case "sql", "clickhouse":
		if c.History.DSN == "" {
			return fmt.Errorf("history.dsn is required for type %q", c.History.Type)
		}
	default:
		return fmt.Errorf("unsupported history.type %q", c.History.Type)
	}
	return nil
}
