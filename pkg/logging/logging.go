// Package logging configures log/slog for the Zyea Chat client and dev server.
//
// Levels from most to least verbose: DEBUG, INFO, WARN, ERROR.
//
// Usage:
//
//	logging.Setup(logging.FromEnv("ZYEACHAT", os.Stderr))
//	slog.Info("session resolved", "user", id)
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options controls how logging is configured.
type Options struct {
	Level  string    // "debug", "info", "warn", "error" (default: "info")
	Format string    // "text" or "json" (default: "text")
	Output io.Writer // where to write logs (default: os.Stderr)
}

// ParseLevel converts a string level name to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// FromEnv reads <PREFIX>_LOG_LEVEL and <PREFIX>_LOG_FORMAT.
func FromEnv(prefix string, out io.Writer) Options {
	opts := Options{Level: "info", Format: "text", Output: out}
	if v := os.Getenv(prefix + "_LOG_LEVEL"); v != "" {
		opts.Level = v
	}
	if v := os.Getenv(prefix + "_LOG_FORMAT"); v != "" {
		opts.Format = v
	}
	return opts
}

// NewHandler builds the slog handler described by opts.
func NewHandler(opts Options) (slog.Handler, error) {
	if err := Validate(opts.Level); err != nil {
		return nil, err
	}
	if err := ValidateFormat(opts.Format); err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level := ParseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if strings.EqualFold(opts.Format, "json") {
		return slog.NewJSONHandler(out, handlerOpts), nil
	}
	return slog.NewTextHandler(out, handlerOpts), nil
}

// Setup installs the handler from opts as the slog default.
// Safe to call early in main() before any logging occurs.
func Setup(opts Options) error {
	handler, err := NewHandler(opts)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// LevelNames returns all valid level names, useful for --help text.
func LevelNames() string {
	return "debug, info, warn, error"
}

// Validate returns an error if the level string is not recognized.
func Validate(level string) error {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "warning", "error", "":
		return nil
	default:
		return fmt.Errorf("unknown log level %q (valid: %s)", level, LevelNames())
	}
}

// ValidateFormat returns an error unless format is text, json or empty.
func ValidateFormat(format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text", "json", "":
		return nil
	default:
		return fmt.Errorf("unknown log format %q (valid: text, json)", format)
	}
}
