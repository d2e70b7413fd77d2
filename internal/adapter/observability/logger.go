package observability

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/config"
)

// fanoutHandler dispatches each record to every sink whose level admits it.
// Console and file sinks carry independent levels, so the handler itself
// cannot gate on a single threshold.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, rec slog.Record) error {
	var firstErr error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, rec.Level) {
			continue
		}
		if err := h.Handle(ctx, rec.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return fanoutHandler{handlers: hs}
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		hs[i] = h.WithGroup(name)
	}
	return fanoutHandler{handlers: hs}
}

// ParseLevel maps a level name to a slog level. Accepts the spellings used by
// common logging stacks (WARNING, CRITICAL). Unknown names fall back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG", "TRACE":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR", "CRITICAL", "FATAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger configures a JSON slog logger with environment fields: stdout
// at CONSOLE_LOG_LEVEL plus a rotating file sink at FILE_LOG_LEVEL.
func SetupLogger(cfg config.Config) *slog.Logger {
	console := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(cfg.ConsoleLogLevel),
	})
	handlers := []slog.Handler{console}

	var fileErr error
	if path := cfg.EffectiveLogFile(); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			fileErr = err
		} else {
			sink := &lumberjack.Logger{
				Filename:   path,
				MaxSize:    cfg.LogFileMaxMB,
				MaxBackups: cfg.LogFileBackups,
				Compress:   true,
			}
			handlers = append(handlers, slog.NewJSONHandler(sink, &slog.HandlerOptions{
				Level: ParseLevel(cfg.FileLogLevel),
			}))
		}
	}

	logger := slog.New(fanoutHandler{handlers: handlers}).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.Mode),
	)
	if fileErr != nil {
		logger.Warn("file log sink disabled", slog.Any("error", fileErr))
	}
	return logger
}
