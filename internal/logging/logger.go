// Package logging provides subsystem-scoped zerolog loggers for affchat.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a zerolog logger that hands out tagged children.
type Logger struct {
	zl zerolog.Logger
}

// Options controls where and how log lines are written.
type Options struct {
	Level string
	Style string // pretty, compact or json
	File  string // JSON lines appended here as well as to the console
}

// New returns a root logger writing to w. A nil w means pretty output on
// stderr. Level "silent" disables logging entirely.
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = consoleWriter(os.Stderr, "pretty")
	}
	return &Logger{
		zl: zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger(),
	}
}

// Open builds a logger from Options. The closer is never nil.
func Open(opts Options) (*Logger, func() error, error) {
	console := consoleWriter(os.Stderr, opts.Style)
	if opts.File == "" {
		return New(console, opts.Level), func() error { return nil }, nil
	}

	f, err := openLogFile(opts.File)
	if err != nil {
		return nil, nil, err
	}
	return New(zerolog.MultiLevelWriter(console, f), opts.Level), f.Close, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

func consoleWriter(out io.Writer, style string) io.Writer {
	switch style {
	case "json":
		return out
	case "compact":
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen, NoColor: true}
	}
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
}

// Sub tags the child with a subsystem name (api, chat, desk, irc, ...).
func (l *Logger) Sub(subsystem string) *Logger {
	return l.With("subsystem", subsystem)
}

// With returns a child carrying one extra string field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// parseLevel accepts zerolog level names in any case plus "silent".
// Unknown or empty names fall back to info.
func parseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "silent" {
		return zerolog.Disabled
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
