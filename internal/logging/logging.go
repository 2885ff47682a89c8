// Package logging builds zap loggers for memoryd processes.
//
// Hook binaries must keep stdout clean for the host: their logs go to
// stderr. The daemon logs to stdout.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	// Level is one of: debug, info, warn, error.
	Level string

	// Format is "json" or "console".
	Format string

	// Stderr routes all output to stderr. Required for hook processes.
	Stderr bool
}

// New creates a logger from config.
func New(cfg Config) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	sink := zapcore.Lock(os.Stdout)
	if cfg.Stderr {
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core), nil
}

// NewHookLogger creates the stderr-only logger used by hook binaries.
// Construction must not fail a hook; bad levels fall back to info.
func NewHookLogger(level string) *zap.Logger {
	logger, err := New(Config{Level: level, Format: "json", Stderr: true})
	if err != nil {
		logger, _ = New(Config{Level: "info", Format: "json", Stderr: true})
	}
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func parseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}
