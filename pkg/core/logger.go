package core

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger provides structured logging capabilities
// This abstraction allows swapping logging implementations
//
// Each method accepts either plain values (joined like fmt.Sprint) or a
// message followed by key/value pairs:
//
//	logger.Warn("symlink update failed", "path", p, "error", err)
type Logger interface {
	// Error logs an error message
	Error(args ...interface{})

	// Errorf logs a formatted error message
	Errorf(format string, args ...interface{})

	// Warn logs a warning message
	Warn(args ...interface{})

	// Warnf logs a formatted warning message
	Warnf(format string, args ...interface{})

	// Info logs an informational message
	Info(args ...interface{})

	// Infof logs a formatted informational message
	Infof(format string, args ...interface{})

	// Debug logs a debug message
	Debug(args ...interface{})

	// Debugf logs a formatted debug message
	Debugf(format string, args ...interface{})

	// With returns a child logger carrying the given key/value pairs
	With(kv ...interface{}) Logger
}

// zeroLogger implements Logger on top of zerolog
type zeroLogger struct {
	zl zerolog.Logger
}

// NewDefaultLogger creates a console logger writing to stderr
func NewDefaultLogger() Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return &zeroLogger{zl: zerolog.New(w).With().Timestamp().Logger()}
}

// NewJSONLogger creates a logger emitting one JSON object per line to w
func NewJSONLogger(w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	return &zeroLogger{zl: zerolog.New(w).With().Timestamp().Logger()}
}

// NewNopLogger discards everything
func NewNopLogger() Logger {
	return &zeroLogger{zl: zerolog.Nop()}
}

// NewLoggerFrom wraps an existing zerolog logger
func NewLoggerFrom(zl zerolog.Logger) Logger {
	return &zeroLogger{zl: zl}
}

// ParseLevel sets the global minimum level ("debug", "info", "warn", "error")
func ParseLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return WrapConfig("log_level", err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

func (l *zeroLogger) Error(args ...interface{}) { l.emit(l.zl.Error(), args) }

func (l *zeroLogger) Errorf(format string, args ...interface{}) {
	l.zl.Error().Msg(fmt.Sprintf(format, args...))
}

func (l *zeroLogger) Warn(args ...interface{}) { l.emit(l.zl.Warn(), args) }

func (l *zeroLogger) Warnf(format string, args ...interface{}) {
	l.zl.Warn().Msg(fmt.Sprintf(format, args...))
}

func (l *zeroLogger) Info(args ...interface{}) { l.emit(l.zl.Info(), args) }

func (l *zeroLogger) Infof(format string, args ...interface{}) {
	l.zl.Info().Msg(fmt.Sprintf(format, args...))
}

func (l *zeroLogger) Debug(args ...interface{}) { l.emit(l.zl.Debug(), args) }

func (l *zeroLogger) Debugf(format string, args ...interface{}) {
	l.zl.Debug().Msg(fmt.Sprintf(format, args...))
}

func (l *zeroLogger) With(kv ...interface{}) Logger {
	ctx := l.zl.With()
	for i := 0; i+1 < len(kv); i += 2 {
		ctx = ctx.Interface(fmt.Sprint(kv[i]), kv[i+1])
	}
	return &zeroLogger{zl: ctx.Logger()}
}

// emit logs msg + key/value pairs when args look like ("msg", k1, v1, ...),
// and falls back to fmt.Sprint otherwise.
func (l *zeroLogger) emit(ev *zerolog.Event, args []interface{}) {
	if ev == nil {
		return
	}
	msg, ok := args0(args)
	if !ok || len(args)%2 == 0 || !stringKeys(args[1:]) {
		ev.Msg(fmt.Sprint(args...))
		return
	}
	for i := 1; i+1 < len(args); i += 2 {
		key := args[i].(string)
		if err, isErr := args[i+1].(error); isErr {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}

func stringKeys(kv []interface{}) bool {
	for i := 0; i < len(kv); i += 2 {
		if _, ok := kv[i].(string); !ok {
			return false
		}
	}
	return true
}

func args0(args []interface{}) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s, ok := args[0].(string)
	return s, ok
}
