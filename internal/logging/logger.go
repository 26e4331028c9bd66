// Package logging holds the process-wide structured logger. It discards
// everything until Configure or EnableFileLogging is called.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileName is the log file written by EnableFileLogging.
const FileName = "forge.log"

var (
	logger  *slog.Logger
	logFile *os.File
	redact  func(string) string
	mu      sync.RWMutex
)

func init() {
	logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// Level represents a logging level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel parses a level string to Level. Unknown values map to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// newLogger must be called with mu held.
func newLogger(w io.Writer, level Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level.slogLevel(),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if redact == nil {
				return a
			}
			switch a.Value.Kind() {
			case slog.KindString:
				a.Value = slog.StringValue(redact(a.Value.String()))
			case slog.KindAny:
				if err, ok := a.Value.Any().(error); ok {
					a.Value = slog.StringValue(redact(err.Error()))
				}
			}
			return a
		},
	}))
}

// Configure sends log lines at or above level to w. A nil writer means
// stderr.
func Configure(level Level, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if w == nil {
		w = os.Stderr
	}
	closeFile()
	logger = newLogger(w, level)
}

// EnableFileLogging appends log lines to FileName inside dir.
func EnableFileLogging(dir string, level Level) error {
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	closeFile()
	logFile = f
	logger = newLogger(f, level)
	return nil
}

// SetRedactor passes every string and error attribute through fn before it
// is written. It applies to loggers created afterwards, so call it before
// Configure or EnableFileLogging, or call those again.
func SetRedactor(fn func(string) string) {
	mu.Lock()
	defer mu.Unlock()
	redact = fn
}

// Close closes the log file if open. Logging is discarded afterwards.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		closeFile()
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
}

func closeFile() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Debug logs a debug message.
func Debug(msg string, args ...any) { current().Debug(msg, args...) }

// Info logs an info message.
func Info(msg string, args ...any) { current().Info(msg, args...) }

// Warn logs a warning message.
func Warn(msg string, args ...any) { current().Warn(msg, args...) }

// Error logs an error message.
func Error(msg string, args ...any) { current().Error(msg, args...) }

// With returns a new logger with the given attributes.
func With(args ...any) *slog.Logger { return current().With(args...) }
