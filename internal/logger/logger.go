package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLevel  = slog.LevelDebug
	handlerMutex sync.RWMutex
)

// Options configures Setup.
type Options struct {
	Level      string
	File       string // rotating log file; empty logs to stdout only
	MaxSizeMB  int
	MaxBackups int
}

// Setup installs the default logger described by opts. The returned closer
// releases the log file, if any.
func Setup(opts Options) io.Closer {
	SetLevel(opts.Level)
	if opts.File == "" {
		InitLogger(os.Stdout)
		return io.NopCloser(nil)
	}
	file := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB, // megabytes
		MaxBackups: opts.MaxBackups,
	}
	InitLogger(os.Stdout, file)
	return file
}

// JSONParsingWriter wraps an io.Writer and converts JSON logs to our format
type JSONParsingWriter struct {
	base io.Writer
}

// Write implements io.Writer and parses JSON logs
func (w *JSONParsingWriter) Write(p []byte) (int, error) {
	line := string(p)

	// Libraries that log JSON lines (sipgo) are reformatted to match ours
	if strings.HasPrefix(strings.TrimSpace(line), "{") {
		var logEntry map[string]any
		if err := json.Unmarshal(p, &logEntry); err == nil {
			level := "info"
			if lv, ok := logEntry["level"]; ok {
				level = fmt.Sprint(lv)
			}

			message := "unknown"
			if msg, ok := logEntry["message"]; ok {
				message = fmt.Sprint(msg)
			} else if msg, ok := logEntry["msg"]; ok {
				message = fmt.Sprint(msg)
			}

			timestamp := time.Now().Format("15:04:05")
			if t, ok := logEntry["time"]; ok {
				if ts, err := time.Parse(time.RFC3339, fmt.Sprint(t)); err == nil {
					timestamp = ts.Format("15:04:05")
				}
			}

			var attrs []string
			for k, v := range logEntry {
				switch k {
				case "level", "message", "msg", "time", "caller":
				default:
					attrs = append(attrs, fmt.Sprintf("%s=%v", k, v))
				}
			}

			formatted := fmt.Sprintf("[%s] [%s] %s", timestamp, strings.ToUpper(level), message)
			if len(attrs) > 0 {
				formatted += " " + strings.Join(attrs, " ")
			}
			formatted += "\n"

			if _, err := w.base.Write([]byte(formatted)); err != nil {
				return 0, err
			}
			return len(p), nil
		}
	}

	return w.base.Write(p)
}

// SetLevel sets the global log level
func SetLevel(levelStr string) {
	level := ParseLevel(levelStr)
	handlerMutex.Lock()
	defer handlerMutex.Unlock()
	globalLevel = level
}

// GetLevel returns the current log level as a string
func GetLevel() string {
	handlerMutex.RLock()
	defer handlerMutex.RUnlock()

	switch globalLevel {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelInfo:
		return "info"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return "debug"
	}
}

// ParseLevel parses a string to an slog level
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// customHandler writes "[HH:MM:SS] [LEVEL] msg k=v" lines to every output.
type customHandler struct {
	outs  []io.Writer
	attrs []slog.Attr
	group string
	mu    *sync.Mutex
}

func formatRecord(record slog.Record, preset []slog.Attr, group string) string {
	var attrs []string
	add := func(a slog.Attr) {
		if a.Key == "" {
			return
		}
		key := a.Key
		if group != "" {
			key = group + "." + key
		}
		attrs = append(attrs, key+"="+a.Value.String())
	}
	for _, a := range preset {
		add(a)
	}
	record.Attrs(func(a slog.Attr) bool {
		add(a)
		return true
	})

	message := record.Message
	if len(attrs) > 0 {
		message = message + " " + strings.Join(attrs, " ")
	}
	return "[" + record.Time.Format("15:04:05") + "] [" + strings.ToUpper(record.Level.String()) + "] " + message + "\n"
}

// Handle implements slog.Handler
func (h *customHandler) Handle(ctx context.Context, record slog.Record) error {
	if !h.Enabled(ctx, record.Level) {
		return nil
	}
	line := []byte(formatRecord(record, h.attrs, h.group))

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, out := range h.outs {
		if out != nil {
			_, _ = out.Write(line)
		}
	}
	return nil
}

// WithAttrs implements slog.Handler
func (h *customHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

// WithGroup implements slog.Handler
func (h *customHandler) WithGroup(name string) slog.Handler {
	next := *h
	if next.group != "" {
		name = next.group + "." + name
	}
	next.group = name
	return &next
}

// Enabled implements slog.Handler
func (h *customHandler) Enabled(ctx context.Context, level slog.Level) bool {
	handlerMutex.RLock()
	defer handlerMutex.RUnlock()
	return level >= globalLevel
}

// InitLogger initializes the global logger with one or more output writers
func InitLogger(outputs ...io.Writer) {
	wrappedOutputs := make([]io.Writer, len(outputs))
	for i, out := range outputs {
		wrappedOutputs[i] = &JSONParsingWriter{base: out}
	}

	handler := &customHandler{
		outs: wrappedOutputs,
		mu:   &sync.Mutex{},
	}
	slog.SetDefault(slog.New(handler))
}
