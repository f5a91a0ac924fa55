// Package rlog provides the structured logger shared by the router's
// I/O-facing packages (driver, midiout, cmd/midirouterd). The router
// core (pkg/router, pkg/rule, pkg/midievent) stays logging-free, the
// same way the teacher corpus keeps pure data-structure code free of
// its own diagnostic logger and only reaches for one at I/O
// boundaries.
package rlog

import (
	"os"

	"github.com/charmbracelet/log"
)

// New creates a charmbracelet/log logger at the given level, writing
// to stderr with the prefix attached so multiple components sharing a
// process are distinguishable in the log stream.
func New(prefix string, level log.Level) *log.Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          prefix,
		ReportTimestamp: true,
	})
	l.SetLevel(level)
	return l
}

// ParseLevel maps a --log-level flag value to a charmbracelet/log
// level, defaulting to Info for anything unrecognized.
func ParseLevel(s string) log.Level {
	lvl, err := log.ParseLevel(s)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
