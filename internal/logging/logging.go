// Package logging provides context-scoped logging for Pavilion's core.
//
// Components never write to stderr or a global logger directly; they call
// logging.Info/Debug on a context.Context, and the caller decides where logs
// end up by attaching a Logger via NewContext.
package logging

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Level indicates a logging level. A larger value is more severe.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// Logger consumes one log entry at a time.
type Logger interface {
	Log(level Level, ts time.Time, msg string)
}

// MultiLogger fans a log entry out to a set of underlying Loggers.
type MultiLogger struct {
	mu      sync.Mutex
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger with an initial set of loggers.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log implements Logger.
func (ml *MultiLogger) Log(level Level, ts time.Time, msg string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	for _, l := range ml.loggers {
		l.Log(level, ts, msg)
	}
}

// AddLogger registers an additional underlying logger.
func (ml *MultiLogger) AddLogger(l Logger) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.loggers = append(ml.loggers, l)
}

type contextKey struct{}

// NewContext attaches logger to ctx. Descendant contexts inherit it unless
// overridden by a further call to NewContext.
func NewContext(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the Logger attached to ctx, if any.
func FromContext(ctx context.Context) (Logger, bool) {
	l, ok := ctx.Value(contextKey{}).(Logger)
	return l, ok
}

func emit(ctx context.Context, level Level, msg string) {
	l, ok := FromContext(ctx)
	if !ok {
		return
	}
	l.Log(level, time.Now(), msg)
}

// Debug logs a debug-level message, built like fmt.Sprint.
func Debug(ctx context.Context, args ...interface{}) {
	emit(ctx, LevelDebug, fmt.Sprint(args...))
}

// Debugf logs a debug-level message, built like fmt.Sprintf.
func Debugf(ctx context.Context, format string, args ...interface{}) {
	emit(ctx, LevelDebug, fmt.Sprintf(format, args...))
}

// Info logs an info-level message, built like fmt.Sprint.
func Info(ctx context.Context, args ...interface{}) {
	emit(ctx, LevelInfo, fmt.Sprint(args...))
}

// Infof logs an info-level message, built like fmt.Sprintf.
func Infof(ctx context.Context, format string, args ...interface{}) {
	emit(ctx, LevelInfo, fmt.Sprintf(format, args...))
}

// Warn logs a warn-level message, built like fmt.Sprint.
func Warn(ctx context.Context, args ...interface{}) {
	emit(ctx, LevelWarn, fmt.Sprint(args...))
}

// Warnf logs a warn-level message, built like fmt.Sprintf.
func Warnf(ctx context.Context, format string, args ...interface{}) {
	emit(ctx, LevelWarn, fmt.Sprintf(format, args...))
}

// Error logs an error-level message, built like fmt.Sprint.
func Error(ctx context.Context, args ...interface{}) {
	emit(ctx, LevelError, fmt.Sprint(args...))
}

// Errorf logs an error-level message, built like fmt.Sprintf.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	emit(ctx, LevelError, fmt.Sprintf(format, args...))
}
