package database

// Config selects and parameterizes a store backend.
type Config struct {
	Type string `toml:"type" mapstructure:"type"` // "jsonfile", "sqlite", "postgres"

	// Path is the file location for jsonfile and sqlite backends.
	Path string `toml:"path,omitempty" mapstructure:"path"`

	// DSN is the connection string for the postgres backend.
	DSN string `toml:"dsn,omitempty" mapstructure:"dsn"`

	// TablePrefix prefixes table names in SQL backends.
	TablePrefix string `toml:"table_prefix,omitempty" mapstructure:"table_prefix"`
}
