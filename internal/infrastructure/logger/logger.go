// Package logger builds the single *zap.Logger instance injected into
// every component at construction time. There is no package-level
// global logger anywhere in this module.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the logger's level, encoding, and destination.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or a file path
}

// New builds a *zap.Logger from Config.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:          cfg.Format,
		EncoderConfig:     encoderConfig,
		OutputPaths:       []string{cfg.OutputPath},
		ErrorOutputPaths:  []string{"stderr"},
	}

	return zapCfg.Build()
}

// WithCorrelation returns a child logger carrying the command
// invocation's correlation id, per spec.md §7.
func WithCorrelation(l *zap.Logger, correlationID string) *zap.Logger {
	return l.With(zap.String("correlation_id", correlationID))
}
