// Package logging is the engine's operational log: channel init
// failures, job failures, audit-trail open failures. Distinct from pkg/audit, which
// is a structured per-host trace of the traversal rather than a human
// log stream.
package logging

import "github.com/sirupsen/logrus"

// Logger is a thin wrapper so callers depend on this package, not
// logrus directly, keeping the dependency substitutable.
type Logger struct {
	*logrus.Logger
}

// New returns a Logger writing structured text to its default output
// (stderr), at Info level.
func New() *Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	return &Logger{Logger: l}
}

// Discard returns a Logger that drops everything, for callers (and
// tests) that don't want operational log noise.
func Discard() *Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return &Logger{Logger: l}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
