// Package monitoring holds the process-wide diagnostic logger shared by the
// gateway, storage and serial layers.
package monitoring

import "log"

// Logf writes one diagnostic line. It defaults to log.Printf; tests mute it
// with SetLogger to keep output readable.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger and returns the previous one so
// callers can restore it. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) func(format string, v ...interface{}) {
	prev := Logf
	if f == nil {
		Logf = func(string, ...interface{}) {}
	} else {
		Logf = f
	}
	return prev
}
