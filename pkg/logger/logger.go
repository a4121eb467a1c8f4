package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var defaultLogger *slog.Logger

// levelVar holds the active level so config hot-reload can adjust it
// without rebuilding the handler chain.
var levelVar = func() *slog.LevelVar {
	v := &slog.LevelVar{}
	v.Set(slog.LevelInfo)
	return v
}()

var initialized atomic.Bool

// ParseLevel converts a string log level to slog.Level.
// Valid levels: debug, info, warn, error
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, nil
	}
}

// SetLevel adjusts the active log level at runtime.
func SetLevel(level slog.Level) {
	levelVar.Set(level)
}

// compactHandler formats records as LEVEL message key=value, one per line.
type compactHandler struct {
	handler slog.Handler
	writer  io.Writer
}

func (h *compactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *compactHandler) Handle(ctx context.Context, record slog.Record) error {
	var buf strings.Builder

	levelStr := record.Level.String()
	if levelStr == "WARNING" {
		levelStr = "WARN"
	}
	buf.WriteString(strings.ToUpper(levelStr))
	buf.WriteString(" ")
	buf.WriteString(record.Message)

	record.Attrs(func(a slog.Attr) bool {
		buf.WriteString(" ")
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")

	_, err := h.writer.Write([]byte(buf.String()))
	return err
}

func (h *compactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &compactHandler{handler: h.handler.WithAttrs(attrs), writer: h.writer}
}

func (h *compactHandler) WithGroup(name string) slog.Handler {
	return &compactHandler{handler: h.handler.WithGroup(name), writer: h.writer}
}

// Init initializes the default logger.
// format: "compact" (level + message + attrs) or "text" (standard slog text output).
func Init(level slog.Level, output *os.File, format string) {
	levelVar.Set(level)

	opts := &slog.HandlerOptions{
		Level: levelVar,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && a.Value.String() == "WARNING" {
				return slog.String("level", "WARN")
			}
			return a
		},
	}

	base := slog.NewTextHandler(output, opts)

	var handler slog.Handler = base
	if format == "compact" || format == "" {
		handler = &compactHandler{handler: base, writer: output}
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
	initialized.Store(true)
}

// OpenLogFile opens or creates a log file at the specified path.
// Returns the file handle and a cleanup function.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { file.Close() }, nil
}

// GetLogger returns the default slog logger, initializing it lazily.
func GetLogger() *slog.Logger {
	if !initialized.Load() {
		Init(slog.LevelInfo, os.Stderr, "compact")
	}
	return defaultLogger
}
