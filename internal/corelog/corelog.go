// Package corelog is the process-wide logging sink for the renderer core.
//
// It mirrors the logging discipline of the engine this package was adapted
// from: one charmbracelet/log logger, built once, reused everywhere. The
// renderer core never panics or os.Exit()s on its own account; Fatal is
// reserved for callers that have decided a condition is unrecoverable for
// their own process.
package corelog

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Callback lets an embedding application redirect validation-layer and
// device-error messages instead of writing to stderr.
type Callback func(level log.Level, msg string)

type logger struct {
	*log.Logger
	mu       sync.RWMutex
	callback Callback
}

var once sync.Once
var singleton *logger

func get() *logger {
	once.Do(func() {
		l := log.NewWithOptions(os.Stderr, log.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          "skr",
		})
		l.SetLevel(log.DebugLevel)
		singleton = &logger{Logger: l}
	})
	return singleton
}

// SetOutput redirects the underlying writer, e.g. to a file or /dev/null in tests.
func SetOutput(w io.Writer) {
	get().Logger.SetOutput(w)
}

// SetLevel adjusts the minimum severity that gets written.
func SetLevel(l log.Level) {
	get().Logger.SetLevel(l)
}

// SetCallback installs (or clears, with nil) the application log callback.
func SetCallback(cb Callback) {
	g := get()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callback = cb
}

func notify(level log.Level, msg string) {
	g := get()
	g.mu.RLock()
	cb := g.callback
	g.mu.RUnlock()
	if cb != nil {
		cb(level, msg)
	}
}

func Debug(msg string, args ...interface{}) {
	get().Debugf(msg, args...)
}

func Info(msg string, args ...interface{}) {
	get().Infof(msg, args...)
}

func Warn(msg string, args ...interface{}) {
	get().Warnf(msg, args...)
	notify(log.WarnLevel, msg)
}

func Error(msg string, args ...interface{}) {
	get().Errorf(msg, args...)
	notify(log.ErrorLevel, msg)
}

// Critical logs a condition that must not silently pass (a missing binding
// at draw time is the common case) without aborting the process.
func Critical(msg string, args ...interface{}) {
	get().Errorf("CRITICAL: "+msg, args...)
	notify(log.ErrorLevel, msg)
}

func Fatal(msg string, args ...interface{}) {
	get().Fatalf(msg, args...)
}
