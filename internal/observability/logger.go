// Package observability builds the logger and metrics endpoint shared by the
// rawwriter commands.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingConfig selects the zap logger configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// NewLogger initializes the zap logger based on the log level. debug uses the
// development config; every other level uses the production config.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	var config zap.Config

	switch cfg.Level {
	case "debug":
		config = zap.NewDevelopmentConfig()
	case "", "info", "warn", "error":
		config = zap.NewProductionConfig()
		config.Level = ParseLogLevel(cfg.Level)
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	switch cfg.Format {
	case "":
	case "json", "console":
		config.Encoding = cfg.Format
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return config.Build()
}

// ParseLogLevel parses the log level string
func ParseLogLevel(level string) zap.AtomicLevel {
	switch level {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
