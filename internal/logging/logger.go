// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roach88/modacct/internal/config"
)

// New builds a logger writing to stderr, or to a rotating file when
// cfg.File is set. The returned closer releases the file; it is a no-op for
// stderr.
func New(cfg config.LogConfig, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	out, closer, err := buildOutput(cfg, stderr)
	if err != nil {
		return nil, nil, err
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closer, nil
}

// Init builds a logger and installs it as the slog default.
func Init(cfg config.LogConfig) (io.Closer, error) {
	logger, closer, err := New(cfg, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return closer, nil
}

func buildOutput(cfg config.LogConfig, stderr io.Writer) (io.Writer, io.Closer, error) {
	if cfg.File == "" {
		return stderr, nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}
	return rotator, rotator, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
