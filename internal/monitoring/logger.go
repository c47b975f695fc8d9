package monitoring

import (
	"log"

	"go.uber.org/zap"
)

// Logf is the package-level diagnostic logger used by low-level packages
// (storage, dataset). It defaults to log.Printf; the CLI points it at the run
// logger with UseZap.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// UseZap routes Logf to l at info level.
func UseZap(l *zap.Logger) {
	if l == nil {
		SetLogger(nil)
		return
	}
	SetLogger(l.WithOptions(zap.AddCallerSkip(1)).Sugar().Infof)
}
