// Package monitoring holds the engine's diagnostic logger.
package monitoring

import (
	"log"
	"sync/atomic"
)

// LogFunc is a printf-style log sink.
type LogFunc func(format string, v ...interface{})

var sink atomic.Pointer[LogFunc]

func init() {
	SetLogger(log.Printf)
}

// Logf writes through the current package logger. It defaults to log.Printf
// and is safe to call from any goroutine, including prefetch workers.
func Logf(format string, v ...interface{}) {
	(*sink.Load())(format, v...)
}

// SetLogger replaces the package logger. Passing nil installs a no-op
// logger. Tests use this to mute or capture engine output.
func SetLogger(f LogFunc) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	sink.Store(&f)
}

// Component returns a logger that prefixes every line with "[name] ", the
// tag style used across the engine ("[cache]", "[lod]", "[player]").
func Component(name string) LogFunc {
	prefix := "[" + name + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
