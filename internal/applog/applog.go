// Package applog wraps go.uber.org/zap with the four numeric severities
// spec.md §7 defines for this system: 1 (fatal), 2 (dropped messages),
// 3 (worker check-ins / status transitions), 4 (message payload traces).
//
// Grounded on other_examples/RPasquale-dspy-code__main.go, a worker
// supervisor that logs with a *zap.Logger field and zap.String/zap.Error
// call sites in the same vocabulary this system needs (worker ids,
// dispatch, heartbeats).
package applog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors spec.md's numeric severities so CLI flags and config
// files can use the same small integers the spec names.
type Level int

const (
	LevelFatal Level = 1
	LevelDrop  Level = 2
	LevelInfo  Level = 3
	LevelTrace Level = 4
)

// ParseLevel accepts either the spec's numeric levels or their names.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "1", "fatal", "error":
		return LevelFatal, nil
	case "2", "drop", "warn", "warning":
		return LevelDrop, nil
	case "3", "info":
		return LevelInfo, nil
	case "4", "trace", "debug":
		return LevelTrace, nil
	default:
		return 0, fmt.Errorf("applog: unknown log level %q", s)
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelFatal:
		return zapcore.ErrorLevel
	case LevelDrop:
		return zapcore.WarnLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelTrace:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a *zap.SugaredLogger with the minimum level set from the
// spec's numeric scale. A higher spec level means more verbose output,
// which is the opposite direction from zapcore.Level, hence the mapping
// in zapLevel rather than a direct cast.
func New(minLevel Level) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(minLevel.zapLevel())
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("applog: build logger: %w", err)
	}
	return logger.Sugar(), nil
}
