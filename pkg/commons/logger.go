// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package commons provides the logging facade shared by every package in
// this module.
package commons

import (
	"go.uber.org/zap"
)

// Logger is the structured-logging contract used across the pipeline core.
// It mirrors zap's sugared API so call sites can mix printf-style and
// keyval-style logging depending on what reads best at the call site.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})

	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	Fatal(args ...interface{})
	Fatalf(template string, args ...interface{})

	// With returns a child logger with the given keyvals always attached,
	// used to scope a logger to a session_id/node_id for the lifetime of
	// a request without threading those fields through every call.
	With(keysAndValues ...interface{}) Logger

	// Sync flushes any buffered log entries. Call before process exit.
	Sync() error
}

type zapLogger struct {
	*zap.SugaredLogger
}

func (z *zapLogger) With(keysAndValues ...interface{}) Logger {
	return &zapLogger{z.SugaredLogger.With(keysAndValues...)}
}

// NewApplicationLogger builds a production JSON logger: info level, ISO8601
// timestamps, sampled under load. Intended for long-running processes.
func NewApplicationLogger() (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &zapLogger{l.Sugar()}, nil
}

// NewTestLogger builds a development logger (human-readable, debug level,
// no sampling) for use in tests.
func NewTestLogger() (Logger, error) {
	l, err := zap.NewDevelopment(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &zapLogger{l.Sugar()}, nil
}

// NewNopLogger discards everything. Useful as a safe default when no logger
// is supplied to a constructor.
func NewNopLogger() Logger {
	return &zapLogger{zap.NewNop().Sugar()}
}
