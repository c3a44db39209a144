package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"

	"github.com/iainonline/MeshcoreTelemetrySenderHeltecV3/internal/config"
)

func New(cfg config.Config, version string, appName string) *slog.Logger {
	return slog.New(consoleHandler(cfg, version, appName))
}

// NewTee builds a logger that writes to the console and, additionally, JSON
// records to w. Used when LOG_DIR is set so a session leaves a reviewable trace.
func NewTee(cfg config.Config, version string, appName string, w io.Writer) *slog.Logger {
	fileHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	return slog.New(multiHandler{consoleHandler(cfg, version, appName), fileHandler})
}

// OpenLogFile creates a timestamped log file under dir, creating dir if needed.
func OpenLogFile(dir string, appName string) (*os.File, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create log dir %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s_%s.log", appName, time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, path, nil
}

func consoleHandler(cfg config.Config, version string, appName string) slog.Handler {
	if version == "dev" {
		return tint.NewHandler(os.Stdout, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		}).WithAttrs([]slog.Attr{slog.String("app", appName)})
	}

	return slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}).WithAttrs([]slog.Attr{
		slog.String("app", appName),
		slog.String("version", version),
		slog.String("env", cfg.AppEnv),
	})
}

// multiHandler fans every record out to all handlers. No fan-out handler
// ships with slog, so this carries the few methods by hand.
type multiHandler []slog.Handler

func (m multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range m {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithGroup(name)
	}
	return out
}
