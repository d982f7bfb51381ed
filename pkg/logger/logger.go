// Package logger is the logging entry point for the client packages. It
// is silent until the host program installs a logger with Set.
package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
)

type loggers struct {
	base    *zap.Logger
	wrapped *zap.Logger // one extra caller frame for the helpers below
}

var current atomic.Pointer[loggers]

func init() {
	Set(nil)
}

// Set installs l for all client packages. A nil l discards everything.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	current.Store(&loggers{base: l, wrapped: l.WithOptions(zap.AddCallerSkip(1))})
}

// L returns the installed logger.
func L() *zap.Logger {
	return current.Load().base
}

// Named returns a child logger for one component.
func Named(component string) *zap.Logger {
	return L().Named(component)
}

func Debug(msg string, fields ...zap.Field) {
	current.Load().wrapped.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	current.Load().wrapped.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	current.Load().wrapped.Warn(msg, fields...)
}
