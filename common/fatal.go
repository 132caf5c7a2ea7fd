package common

import (
	"os"

	LOG "github.com/vinllen/log4go"
)

// Fatal logs a Critical message and aborts the process, mirroring the
// Python original's uniform "log.error(...); sys.exit(1)" pairing used
// throughout mongosync/mongo/handler.py for every unrecoverable error
// class in spec.md §7 (unknown op, non-ignored duplicate key, any other
// write failure in the single-op fallback).
func Fatal(format string, args ...interface{}) {
	LOG.Critical(format, args...)
	os.Exit(1)
}

// FatalErr is a convenience wrapper for the common "wrap an error and
// abort" call shape.
func FatalErr(context string, err error) {
	LOG.Critical("%s: %v", context, err)
	os.Exit(1)
}
