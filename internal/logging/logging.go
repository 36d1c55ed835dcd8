// Package logging builds the zap loggers used by every binary.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a console logger. debug switches to the development
// config at debug level.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// Must is New that panics, for main packages
func Must(debug bool) *zap.Logger {
	logger, err := New(debug)
	if err != nil {
		panic(err)
	}
	return logger
}
