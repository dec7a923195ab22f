package logger

import (
	"io"
	"sync/atomic"
)

// LoggerInstance defines the interface for logging backends.
type LoggerInstance interface {
	Log(message string, keyvals ...any)
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
}

type level int

const (
	levelLog level = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
	levelFatal
)

// Logger fans every call out to its backends.
type Logger struct {
	instances []LoggerInstance
}

var current atomic.Pointer[Logger]

// Init replaces the global backends. Calls made before Init are dropped.
// Workers and HTTP handlers log concurrently, so the swap is atomic.
func Init(instances ...LoggerInstance) {
	current.Store(&Logger{instances: instances})
}

func dispatch(lvl level, message string, keyvals []any) {
	l := current.Load()
	if l == nil {
		return
	}
	for _, in := range l.instances {
		switch lvl {
		case levelDebug:
			in.Debug(message, keyvals...)
		case levelInfo:
			in.Info(message, keyvals...)
		case levelWarn:
			in.Warn(message, keyvals...)
		case levelError:
			in.Error(message, keyvals...)
		case levelFatal:
			in.Fatal(message, keyvals...)
		default:
			in.Log(message, keyvals...)
		}
	}
}

func Log(message string, keyvals ...any)   { dispatch(levelLog, message, keyvals) }
func Debug(message string, keyvals ...any) { dispatch(levelDebug, message, keyvals) }
func Info(message string, keyvals ...any)  { dispatch(levelInfo, message, keyvals) }
func Warn(message string, keyvals ...any)  { dispatch(levelWarn, message, keyvals) }
func Error(message string, keyvals ...any) { dispatch(levelError, message, keyvals) }

// Fatal logs to every backend and terminates the program through the first
// backend that exits.
func Fatal(message string, keyvals ...any) { dispatch(levelFatal, message, keyvals) }

// Close releases backends holding resources, such as per-run log files.
func Close() error {
	l := current.Load()
	if l == nil {
		return nil
	}
	var firstErr error
	for _, in := range l.instances {
		c, ok := in.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
