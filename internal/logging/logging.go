// Package logging builds the process logger: slog to stderr, an optional
// rotated file, and an in-memory ring served to operators.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jetsetgo/group-checkout/internal/config"
)

// Setup builds the logger described by cfg, installs it as the slog and log
// package default, and returns it with the capture buffer. The returned
// closer flushes the rotated file, if any.
func Setup(cfg config.LogConfig) (*slog.Logger, *Buffer, io.Closer) {
	buf := NewBuffer(cfg.BufferSize)

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, rotated)
		closer = rotated
	}

	logger := New(out, buf, cfg.Level, cfg.Format)
	slog.SetDefault(logger)
	log.SetOutput(out)
	return logger, buf, closer
}

// New builds a logger writing to w and capturing into buf
func New(w io.Writer, buf *Buffer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	if buf != nil {
		h = &captureHandler{next: h, buf: buf}
	}
	return slog.New(h)
}

// ParseLevel maps a config level name to a slog level, defaulting to info
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
