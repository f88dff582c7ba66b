// Package logging builds the slog logger used across driftdb: console
// output plus rotating log files, with a dedicated warn-and-up error file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the log sinks. The zero value logs nothing; DefaultConfig
// gives console logging at info level.
type Config struct {
	Level   string         `yaml:"level"`
	Format  string         `yaml:"format"`
	Dir     string         `yaml:"dir"`
	Console bool           `yaml:"console"`
	File    bool           `yaml:"file"`
	Rotate  RotationConfig `yaml:"rotate"`
}

// RotationConfig bounds the rotating log files.
type RotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// DefaultConfig returns console-only info logging.
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Format:  "text",
		Dir:     "logs",
		Console: true,
		Rotate:  RotationConfig{MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 14},
	}
}

// Logger bundles the slog logger with the rotating files it owns.
type Logger struct {
	*slog.Logger
	files []*lumberjack.Logger
}

// Close flushes and closes the rotating log files.
func (l *Logger) Close() error {
	for _, f := range l.files {
		if err := f.Close(); err != nil {
			return fmt.Errorf("close log file: %w", err)
		}
	}
	l.files = nil
	return nil
}

// New builds a logger per the config. With file logging enabled it writes
// driftdb.log (all levels) and errors.log (warn and up), both rotated.
func New(cfg Config) (*Logger, error) {
	level := ParseLevel(cfg.Level)

	var handlers []slog.Handler
	var files []*lumberjack.Logger

	if cfg.Console {
		handlers = append(handlers, newHandler(os.Stdout, cfg.Format, level))
	}

	if cfg.File {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}

		main := rotatingFile(filepath.Join(cfg.Dir, "driftdb.log"), cfg.Rotate)
		files = append(files, main)
		handlers = append(handlers, newHandler(main, cfg.Format, level))

		errs := rotatingFile(filepath.Join(cfg.Dir, "errors.log"), cfg.Rotate)
		files = append(files, errs)
		handlers = append(handlers, NewLevelFilter(newHandler(errs, cfg.Format, slog.LevelWarn), slog.LevelWarn))
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, nil)
	case 1:
		handler = handlers[0]
	default:
		handler = NewMultiHandler(handlers...)
	}

	return &Logger{Logger: slog.New(handler), files: files}, nil
}

// ParseLevel maps a config level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func rotatingFile(path string, rot RotationConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
		Compress:   rot.Compress,
	}
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
