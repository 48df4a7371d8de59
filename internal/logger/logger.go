// Package logger builds the process-wide zap logger with an adjustable level.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// New builds a production JSON logger at the given level ("debug", "info", ...).
func New(level string) (*Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("error parsing log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("error building logger: %w", err)
	}
	return &Logger{Logger: l, level: lvl}, nil
}

// SetLevel changes the level of every logger derived from l.
func (l *Logger) SetLevel(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("error parsing log level: %w", err)
	}
	if l.level.Level() != lvl {
		l.level.SetLevel(lvl)
		l.Info("Log level changed", zap.String("level", lvl.String()))
	}
	return nil
}

func (l *Logger) Level() string {
	return l.level.Level().String()
}
