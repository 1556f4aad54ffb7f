// Package runctx carries the per-run, immutable context (logger, verbosity,
// concurrency settings) through every pipeline stage explicitly, rather
// than through package-level mutable state.
package runctx

import (
	"io"
	"runtime"

	"github.com/sirupsen/logrus"
)

// Context is constructed once per invocation and passed by value (its
// logger is the only pointer-shaped field) to every stage.
type Context struct {
	Log        logrus.FieldLogger
	Verbose    bool
	NProcs     int
	NFileChunk int
}

// New builds a Context with defaults: NProcs at half the logical CPU count
// (floor, minimum 1), a 100000-file chunk size, and a logrus text logger
// writing to w.
func New(w io.Writer, verbose bool) Context {
	logger := logrus.New()
	logger.Out = w
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	nprocs := runtime.NumCPU() / 2
	if nprocs < 1 {
		nprocs = 1
	}
	return Context{
		Log:        logger,
		Verbose:    verbose,
		NProcs:     nprocs,
		NFileChunk: 100000,
	}
}

// WithFields returns a derived logger carrying the given fields, without
// mutating the Context.
func (c Context) WithFields(fields logrus.Fields) logrus.FieldLogger {
	return c.Log.WithFields(fields)
}
