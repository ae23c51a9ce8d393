// Package logging provides slog construction helpers shared by all mcpd
// components. Components receive a *slog.Logger and never construct their
// own handlers; the CLI builds one logger from flags and fans it out.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Format selects the log output encoding.
type Format string

// Supported output formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config describes how the process logger is built.
type Config struct {
	// Level is the minimum level emitted. Defaults to Info.
	Level slog.Level

	// Format selects text or JSON encoding.
	Format Format

	// Output receives log lines. Defaults to os.Stderr.
	Output io.Writer

	// AddSource annotates records with file:line of the call site.
	AddSource bool
}

// New builds a logger from cfg.
func New(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}
	var h slog.Handler
	if cfg.Format == FormatJSON {
		h = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		h = slog.NewTextHandler(cfg.Output, opts)
	}
	return slog.New(h)
}

// Component returns a child logger tagged with a component name.
// All mcpd packages log through a component logger so records can be
// filtered by subsystem.
func Component(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		return Nop()
	}
	return base.With(slog.String("component", name))
}

// Nop returns a logger that discards everything. Used as the default when
// a component is constructed without a logger, and throughout tests.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a level string to a slog.Level. Unknown strings fall
// back to Info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "warn", "WARN", "warning":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseFormat maps a format string to a Format. Unknown strings fall back
// to text.
func ParseFormat(s string) Format {
	if s == "json" || s == "JSON" {
		return FormatJSON
	}
	return FormatText
}
