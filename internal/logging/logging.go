// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/n0madic/go-aiforwarder/internal/config"
)

// Level maps the verbose and debug switches to a slog level.
func Level(cfg *config.ServerConfig) slog.Level {
	switch {
	case cfg.Debug:
		return slog.LevelDebug
	case cfg.Verbose:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

// Output returns the log destination: stderr, or a size-rotated file when
// LogFile is set. The returned closer must be closed on shutdown.
func Output(cfg *config.ServerConfig) (io.Writer, io.Closer) {
	if strings.TrimSpace(cfg.LogFile) == "" {
		return os.Stderr, nopCloser{}
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   true,
	}
	return lj, lj
}

// New builds a logger writing to w in the configured format.
func New(cfg *config.ServerConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: Level(cfg)}
	var handler slog.Handler
	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Setup installs the configured logger as the slog default.
func Setup(cfg *config.ServerConfig) (*slog.Logger, io.Closer) {
	w, closer := Output(cfg)
	logger := New(cfg, w)
	slog.SetDefault(logger)
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
