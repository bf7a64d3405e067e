// Package logger configures slog output for the engine: colored text on a
// terminal, optionally duplicated to a size-rotated file.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters, lumberjack semantics.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes log destinations. If File is empty and Dir is set, the
// file becomes Dir/workcache.log. With neither, logs go to stderr only.
type Config struct {
	Level      string `toml:"level" mapstructure:"level"` // debug, info, warn, error
	Dir        string `toml:"dir" mapstructure:"dir"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
	NoColor    bool   `toml:"no_color" mapstructure:"no_color"`
}

// New builds a slog.Logger per c. The returned closer owns the rotating
// file writer, if any.
func (c Config) New() (*slog.Logger, io.Closer, error) {
	level := parseLevel(c.Level)
	opts := &slog.HandlerOptions{Level: level}

	file := c.File
	if file == "" && c.Dir != "" {
		file = filepath.Join(c.Dir, "workcache.log")
	}

	var w io.Writer = os.Stderr
	var closer io.Closer
	if file != "" {
		rot := &lj.Logger{
			Filename:   file,
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
		w = io.MultiWriter(os.Stderr, rot)
		closer = rot
	}

	var h slog.Handler
	if c.NoColor || file != "" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = NewColorTextHandler(w, opts)
	}
	return slog.New(h), closer, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
