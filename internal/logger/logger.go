// Package logger builds the zap loggers used throughout quartet.
// Loggers are constructed once at startup and passed down explicitly;
// there is no package-level global.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents a logging level
type Level string

const (
	// DebugLevel enables full debug logging
	DebugLevel Level = "debug"
	// InfoLevel enables informational logging
	InfoLevel Level = "info"
	// WarnLevel enables warning logging
	WarnLevel Level = "warn"
	// ErrorLevel enables error-only logging
	ErrorLevel Level = "error"
)

// LevelFromString parses a level name, defaulting to info
func LevelFromString(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// New creates a zap logger with the specified level and format.
// Format "json" produces production-style structured output; anything
// else uses the human-readable console encoder.
func New(level Level, format string) (*zap.Logger, error) {
	var config zap.Config

	if format == "json" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	}

	switch level {
	case DebugLevel:
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case WarnLevel:
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case ErrorLevel:
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create zap logger: %w", err)
	}

	return logger, nil
}

// NewForVerbosity maps the CLI verbosity setting onto a logger. Normal
// verbosity logs warnings and above so agent progress lines stay readable.
func NewForVerbosity(verbosity string, format string) (*zap.Logger, error) {
	var level Level
	switch verbosity {
	case "debug":
		level = DebugLevel
	case "verbose":
		level = InfoLevel
	default:
		level = WarnLevel
	}
	return New(level, format)
}

// WithRun returns a logger with the run ID attached to every entry
func WithRun(log *zap.Logger, runID string) *zap.Logger {
	return log.With(zap.String("run_id", runID))
}
