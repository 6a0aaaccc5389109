// Package observability provides logging and metrics for the raid engine.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/raidbot/internal/config"
	"github.com/cory-johannsen/raidbot/internal/game/dice"
)

// NewLogger creates a structured logger from the given logging configuration.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// NewDrawSource returns the engine's random source. With cfg.LogDraws every
// draw is logged at debug level under the "dice" logger.
//
// Postcondition: Returns a Source safe for concurrent use.
func NewDrawSource(cfg config.LoggingConfig, logger *zap.Logger) dice.Source {
	src := dice.NewCryptoSource()
	if cfg.LogDraws {
		return dice.NewLoggedSource(src, logger.Named("dice"))
	}
	return src
}
