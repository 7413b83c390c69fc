// Package logging builds the structured loggers injected into tandem components.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Options configures New.
type Options struct {
	// Path is the log file. Empty means Writer, or nothing at all.
	Path string
	// Level is debug, info, warn or error. Unknown values mean info.
	Level string
	// Format is text or json.
	Format string
	// Writer receives output when Path is empty.
	Writer io.Writer
}

// Logger is a slog.Logger that may own a log file.
type Logger struct {
	*slog.Logger

	mu   sync.Mutex
	file *os.File
}

// New creates a logger. With a Path it appends to that file, creating parent
// directories as needed, and writes a start marker.
func New(opts Options) (*Logger, error) {
	w := opts.Writer
	var f *os.File
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		var err error
		f, err = os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
	}
	if w == nil {
		return Nop(), nil
	}

	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}

	l := &Logger{Logger: slog.New(h), file: f}
	if f != nil {
		l.Info("log started", "at", time.Now().Format(time.RFC3339))
	}
	return l, nil
}

// ForRepo logs to <root>/.tandem/logs/tandem.log. It returns a no-op
// logger if the file cannot be opened.
func ForRepo(root string, opts Options) *Logger {
	opts.Path = filepath.Join(root, ".tandem", "logs", "tandem.log")
	l, err := New(opts)
	if err != nil {
		return Nop()
	}
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) slog.Level {
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

// Close closes the log file, if any. Safe to call on a nil logger.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
