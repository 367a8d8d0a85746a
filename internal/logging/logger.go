// Package logging wraps zerolog with a key/value API shared by every
// component of the node.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger. Fields attached with With or Component are
// written on every entry.
type Logger struct {
	zl     zerolog.Logger
	fields map[string]interface{}
}

var global = NewDevelopment()

func newLogger(w io.Writer, level zerolog.Level) *Logger {
	return &Logger{
		zl:     zerolog.New(w).Level(level).With().Timestamp().Logger(),
		fields: map[string]interface{}{},
	}
}

// NewDevelopment creates a debug level logger with console output
func NewDevelopment() *Logger {
	return newLogger(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}, zerolog.DebugLevel)
}

// NewWithWriter creates a JSON logger writing to w
func NewWithWriter(w io.Writer, level zerolog.Level) *Logger {
	return newLogger(w, level)
}

// SetGlobal replaces the logger returned by FromContext when a context
// carries none
func SetGlobal(logger *Logger) {
	global = logger
}

// Global returns the process-wide fallback logger
func Global() *Logger {
	return global
}

// applyFields writes stored fields then the key/value pairs. Pairs whose
// key is not a string are dropped; errors under "error" are rendered with
// Error() so they stay readable in JSON output.
func (l *Logger) applyFields(e *zerolog.Event, fields []interface{}) *zerolog.Event {
	for k, v := range l.fields {
		e.Interface(k, v)
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		switch v := fields[i+1].(type) {
		case error:
			e.Str(key, v.Error())
		case time.Duration:
			e.Str(key, v.String())
		default:
			e.Interface(key, v)
		}
	}
	return e
}

func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.applyFields(l.zl.Debug(), fields).Msg(msg)
}

func (l *Logger) Info(msg string, fields ...interface{}) {
	l.applyFields(l.zl.Info(), fields).Msg(msg)
}

func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.applyFields(l.zl.Warn(), fields).Msg(msg)
}

func (l *Logger) Error(msg string, fields ...interface{}) {
	l.applyFields(l.zl.Error(), fields).Msg(msg)
}

// Fatal logs and exits the process
func (l *Logger) Fatal(msg string, fields ...interface{}) {
	l.applyFields(l.zl.Fatal(), fields).Msg(msg)
}

// Enabled reports whether messages at level would be written
func (l *Logger) Enabled(level zerolog.Level) bool {
	return l.zl.GetLevel() <= level
}

// With returns a child logger carrying extra key/value pairs
func (l *Logger) With(fields ...interface{}) *Logger {
	child := make(map[string]interface{}, len(l.fields)+len(fields)/2)
	for k, v := range l.fields {
		child[k] = v
	}
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			child[key] = fields[i+1]
		}
	}
	return &Logger{zl: l.zl, fields: child}
}

// Component returns a child logger tagged with a component name
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// WithContext returns a child logger carrying the request id and calling
// peer stored in ctx, if any
func (l *Logger) WithContext(ctx context.Context) *Logger {
	fields := contextFields(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// Sync is a no-op; zerolog does not buffer
func (l *Logger) Sync() error {
	return nil
}
