// Package logger configures the process-wide slog logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-Id"

type Config struct {
	DataDir string
	DevMode bool
	// Level, Format and File fall back to LOG_LEVEL, LOG_FORMAT and LOG_FILE.
	Level  string
	Format string
	File   string
}

func (c Config) withEnv() Config {
	if c.Level == "" {
		c.Level = os.Getenv("LOG_LEVEL")
	}
	if c.Format == "" {
		c.Format = os.Getenv("LOG_FORMAT")
	}
	if c.File == "" {
		c.File = os.Getenv("LOG_FILE")
	}
	return c
}

// path is empty when logs go to stdout: always in dev mode, and in
// production unless a data dir or explicit file is configured.
func (c Config) path() string {
	if c.File != "" {
		return c.File
	}
	if c.DevMode || c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, "pairpad.log")
}

// Init installs the default logger. The returned func closes the log file.
func Init(cfg Config) func() {
	cfg = cfg.withEnv()
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: cfg.DevMode}

	w, closeFn := openOutput(cfg.path())
	slog.SetDefault(slog.New(newHandler(w, cfg.Format, opts)))
	return closeFn
}

func openOutput(path string) (io.Writer, func()) {
	if path == "" {
		return os.Stdout, func() {}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "log dir %s: %v, logging to stdout\n", filepath.Dir(path), err)
		return os.Stdout, func() {}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log file %s: %v, logging to stdout\n", path, err)
		return os.Stdout, func() {}
	}
	return f, func() { f.Close() }
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// parseLevel accepts slog's level names in any case, including offsets
// such as "debug+2". Anything else is info.
func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// RequestID returns the caller's X-Request-Id, or a fresh UUIDv7 when the
// header is missing or too long to trust.
func RequestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); id != "" && len(id) <= 64 {
		return id
	}
	return uuid.Must(uuid.NewV7()).String()
}

// ForRequest returns a logger tagged with the request's id, method and path.
func ForRequest(r *http.Request, requestID string) *slog.Logger {
	return slog.With("requestId", requestID, "method", r.Method, "path", r.URL.Path)
}

// LogPanic records a recovered panic value together with the goroutine stack.
// Call it from a deferred recover().
func LogPanic(r any, msg string, args ...any) {
	args = append(args, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
	slog.Error(msg, args...)
}

// Truncate shortens s to at most max runes, marking the cut with "...".
// Used to keep document text out of logs.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
