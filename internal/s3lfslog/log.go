// Package s3lfslog carries a structured logrus entry on a context.Context
// rather than reaching for a package-level global.
package s3lfslog

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	defaultLogger   = logrus.StandardLogger().WithField("component", "s3lfs")
	defaultLoggerMu sync.RWMutex
)

// Logger is the leveled-logging interface every component logs through.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	WithError(err error) *logrus.Entry
	WithField(key string, value any) *logrus.Entry
}

type loggerKey struct{}

// WithLogger attaches logger to ctx, returning the derived context.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// WithField returns ctx with a logger enriched by key/value, without
// disturbing the caller's own copy.
func WithField(ctx context.Context, key string, value any) context.Context {
	return WithLogger(ctx, GetLogger(ctx).WithField(key, value))
}

// GetLogger returns the logger attached to ctx, or the package default.
func GetLogger(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return l
	}

	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger replaces the base logger new, context-less callers fall
// back to.
func SetDefaultLogger(entry *logrus.Entry) {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = entry
}

// Fields is a typed alias so callers outside this package don't need to
// import logrus directly just to build a field set.
type Fields = logrus.Fields

// WithFields enriches the context logger with multiple fields at once.
func WithFields(ctx context.Context, fields Fields) context.Context {
	l := GetLogger(ctx)
	entry, ok := any(l).(*logrus.Entry)
	if !ok {
		return WithLogger(ctx, l.WithField(fmt.Sprint(fields), ""))
	}
	return WithLogger(ctx, entry.WithFields(fields))
}
