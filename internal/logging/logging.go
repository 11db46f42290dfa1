// Package logging builds the zap logger, writing to stderr or a rotating file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	FilePath   string // empty = stderr
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns a logger and a cleanup function to call on shutdown. Stdout is
// never used: it carries the MCP stdio transport.
func New(cfg Config) (*zap.Logger, func() error, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var writer io.Writer
	cleanup := func() error { return nil }

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o750); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
			LocalTime:  true,
		}
		writer = lj
		cleanup = lj.Close
	} else {
		writer = os.Stderr
	}

	return zap.New(newCore(cfg.Format, writer, level), zap.AddCaller()), cleanup, nil
}

func newCore(format string, w io.Writer, level zapcore.Level) zapcore.Core {
	var encoder zapcore.Encoder
	if strings.EqualFold(format, "console") {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	}
	return zapcore.NewCore(encoder, zapcore.AddSync(w), level)
}
