// Package logger constructs the zap.Logger every tinychain component
// takes as a constructor argument. It replaces the teacher's hand-rolled
// pkg/logger (level/prefix/output fields, manual text-or-JSON formatting,
// size-based file rotation) with zap's equivalent config knobs, following
// the dependency-injection pattern arejula27-p2pool-go uses throughout
// its internal/p2p package: every constructor takes a *zap.Logger rather
// than reaching for a package-global.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the constructed logger's verbosity and encoding.
type Config struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// JSON selects JSON encoding over the human-readable console encoder.
	JSON bool
}

// New builds a zap.Logger from cfg. An empty Level defaults to "info".
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("logger: invalid level %q: %w", cfg.Level, err)
		}
	}

	zc := zap.NewProductionConfig()
	if !cfg.JSON {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.TimeKey = "ts"
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	log, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("logger: build: %w", err)
	}
	return log, nil
}

// NewNop returns a logger that discards everything, used by tests.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
