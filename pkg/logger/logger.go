// Package logger is the process-wide logging facade. Backends are registered
// with Init; every call fans out to all of them.
package logger

import (
	"os"
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

var backends atomic.Pointer[[]LoggerInstance]

// Init replaces the registered backends. Calls made before Init are
// dropped, except Fatal which still exits.
func Init(instances ...LoggerInstance) {
	registered := append([]LoggerInstance(nil), instances...)
	backends.Store(&registered)
}

func each(fn func(LoggerInstance)) {
	registered := backends.Load()
	if registered == nil {
		return
	}
	for _, instance := range *registered {
		fn(instance)
	}
}

// Log writes a message without a level.
func Log(message string, keyvals ...any) {
	each(func(l LoggerInstance) { l.Log(message, keyvals...) })
}

func Debug(message string, keyvals ...any) {
	each(func(l LoggerInstance) { l.Debug(message, keyvals...) })
}

func Info(message string, keyvals ...any) {
	each(func(l LoggerInstance) { l.Info(message, keyvals...) })
}

func Warn(message string, keyvals ...any) {
	each(func(l LoggerInstance) { l.Warn(message, keyvals...) })
}

func Error(message string, keyvals ...any) {
	each(func(l LoggerInstance) { l.Error(message, keyvals...) })
}

// Fatal logs at FATAL level and exits with status 1.
func Fatal(message string, keyvals ...any) {
	each(func(l LoggerInstance) { l.Fatal(message, keyvals...) })
	os.Exit(1)
}
