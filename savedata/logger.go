package savedata

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// logger is the package-level structured logger for every store and pass.
// Defaults to a discard handler until InitLogger is called.
var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// InitLogger configures the package logger.
// Console output is always on: INFO→stdout, WARN/ERROR→stderr.
// If logDir is non-empty, level-split files are written as well:
//   - savesync_warn.log: WARN + ERROR
//   - savesync_info.log: INFO only (1MB, 1 backup)
//   - savesync_debug.log: DEBUG only (1MB, 1 backup)
func InitLogger(logDir string, verbose bool) {
	consoleMin := slog.LevelInfo
	if verbose {
		consoleMin = slog.LevelDebug
	}
	console := &consoleHandler{
		min:    consoleMin,
		stdout: slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: consoleMin}),
		stderr: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}
	handlers := []slog.Handler{console, &errorCaptureHandler{}}

	if logDir != "" {
		os.MkdirAll(logDir, 0750) //nolint:errcheck

		handlers = append(handlers,
			slog.NewTextHandler(rotating(logDir, "savesync_warn.log", 100, 3), &slog.HandlerOptions{Level: slog.LevelWarn}),
			&levelRangeHandler{
				min:   slog.LevelInfo,
				max:   slog.LevelInfo,
				inner: slog.NewTextHandler(rotating(logDir, "savesync_info.log", 1, 1), &slog.HandlerOptions{Level: slog.LevelInfo}),
			},
			&levelRangeHandler{
				min:   slog.LevelDebug,
				max:   slog.LevelDebug,
				inner: slog.NewTextHandler(rotating(logDir, "savesync_debug.log", 1, 1), &slog.HandlerOptions{Level: slog.LevelDebug}),
			},
		)
	}

	logger = slog.New(&multiHandler{handlers: handlers})
}

// SetLogger replaces the package logger. Used by embedders and tests.
func SetLogger(l *slog.Logger) {
	logger = l
}

func rotating(dir, name string, maxSizeMB, backups int) io.Writer {
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    maxSizeMB,
		MaxBackups: backups,
	}
}

// sub returns a child logger tagged with the given component name.
func sub(component string) *slog.Logger {
	return logger.With("comp", component)
}

// logEnabled guards expensive DEBUG logging.
func logEnabled(level slog.Level) bool {
	return logger.Enabled(context.Background(), level)
}

type consoleHandler struct {
	min    slog.Level
	stdout slog.Handler
	stderr slog.Handler
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min
}

func (h *consoleHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.stderr.Handle(ctx, r)
	}
	return h.stdout.Handle(ctx, r)
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &consoleHandler{min: h.min, stdout: h.stdout.WithAttrs(attrs), stderr: h.stderr.WithAttrs(attrs)}
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	return &consoleHandler{min: h.min, stdout: h.stdout.WithGroup(name), stderr: h.stderr.WithGroup(name)}
}

// ErrorRecord is a captured error-level log line.
type ErrorRecord struct {
	Time    time.Time `json:"time"`
	Comp    string    `json:"comp"`
	Pass    string    `json:"pass,omitempty"`
	Message string    `json:"message"`
	Error   string    `json:"error,omitempty"`
}

const errorRingSize = 8

var errorRing struct {
	mu      gosync.Mutex
	entries [errorRingSize]ErrorRecord
	count   int
}

// RecentErrors returns the most recent error log lines, newest first.
func RecentErrors() []ErrorRecord {
	errorRing.mu.Lock()
	defer errorRing.mu.Unlock()
	n := min(errorRing.count, errorRingSize)
	out := make([]ErrorRecord, n)
	for i := 0; i < n; i++ {
		out[i] = errorRing.entries[(errorRing.count-1-i)%errorRingSize]
	}
	return out
}

type errorCaptureHandler struct {
	attrs []slog.Attr
}

func (h *errorCaptureHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

func (h *errorCaptureHandler) Handle(_ context.Context, r slog.Record) error {
	rec := ErrorRecord{Time: r.Time, Message: r.Message}
	collect := func(a slog.Attr) bool {
		switch a.Key {
		case "comp":
			rec.Comp = a.Value.String()
		case "pass":
			rec.Pass = a.Value.String()
		case "err":
			rec.Error = a.Value.String()
		}
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	errorRing.mu.Lock()
	errorRing.entries[errorRing.count%errorRingSize] = rec
	errorRing.count++
	errorRing.mu.Unlock()
	return nil
}

func (h *errorCaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &errorCaptureHandler{attrs: merged}
}

func (h *errorCaptureHandler) WithGroup(_ string) slog.Handler { return h }

type levelRangeHandler struct {
	min, max slog.Level
	inner    slog.Handler
}

func (h *levelRangeHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min && level <= h.max
}

func (h *levelRangeHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *levelRangeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRangeHandler{min: h.min, max: h.max, inner: h.inner.WithAttrs(attrs)}
}

func (h *levelRangeHandler) WithGroup(name string) slog.Handler {
	return &levelRangeHandler{min: h.min, max: h.max, inner: h.inner.WithGroup(name)}
}

// multiHandler fans a record out to every enabled handler.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, r.Level) {
			if err := hh.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		hs[i] = hh.WithAttrs(attrs)
	}
	return &multiHandler{handlers: hs}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		hs[i] = hh.WithGroup(name)
	}
	return &multiHandler{handlers: hs}
}

// Logger returns the package logger tagged with component, for use by the
// packages built on top of this one.
func Logger(component string) *slog.Logger {
	return sub(component)
}
