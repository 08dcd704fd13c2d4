// Package logging provides the daemon's leveled, object-keyed logger.
//
// Call sites follow the convention of naming the object being
// acted on (a host, a directory, a worker) as the first argument rather
// than folding it into the format string, e.g. Debugf(host, "connecting").
package logging

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu  sync.Mutex
	std = newLogger()
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts the global verbosity ("debug", "info", "warn", "error").
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	std.SetLevel(lvl)
	return nil
}

// object renders the thing being logged about the way an
// fs.Debugf(f, ...) does, as a "subject" field holding "%v" of o, or "-"
// for a nil subject.
func object(o interface{}) *logrus.Entry {
	mu.Lock()
	l := std
	mu.Unlock()
	if o == nil {
		return l.WithField("subject", "-")
	}
	return l.WithField("subject", fmt.Sprintf("%v", o))
}

// Debugf logs at debug level, about subject o.
func Debugf(o interface{}, format string, args ...interface{}) {
	object(o).Debugf(format, args...)
}

// Infof logs at info level, about subject o.
func Infof(o interface{}, format string, args ...interface{}) {
	object(o).Infof(format, args...)
}

// Logf is an alias for Infof, matching the fs.Logf name used for
// "always shown unless -q" output.
func Logf(o interface{}, format string, args ...interface{}) {
	object(o).Infof(format, args...)
}

// Errorf logs at error level, about subject o.
func Errorf(o interface{}, format string, args ...interface{}) {
	object(o).Errorf(format, args...)
}

// Debugsignf logs at a debug-sign level (error category 4 of the error
// handling design: invariant violations that get clamped and continued).
func Debugsignf(o interface{}, format string, args ...interface{}) {
	object(o).WithField("sign", true).Warnf(format, args...)
}
