package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func validLevel(level string) error {
	if _, err := zapcore.ParseLevel(level); err != nil {
		return fmt.Errorf("%w: log level %q", ErrInvalid, level)
	}
	return nil
}

// NewLogger builds the process logger. Output goes to file when given,
// otherwise to stderr; an empty file with discard set drops everything,
// which the interactive client uses so logs do not tear up the terminal.
func NewLogger(level string, debug bool, file string, discard bool) (*zap.Logger, error) {
	if file == "" && discard {
		return zap.NewNop(), nil
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
		lvl = min(lvl, zapcore.DebugLevel)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if file != "" {
		cfg.OutputPaths = []string{file}
		cfg.ErrorOutputPaths = []string{file}
	}
	return cfg.Build()
}
