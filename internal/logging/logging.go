// Package logging builds the daemon's loggers: stderr for interactive
// use, multiplexed with a size-rotated file when one is configured.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures file logging.
type Options struct {
	// File is the log file path; empty disables file logging.
	File string

	// MaxSizeMB rotates the file when it exceeds this size.
	MaxSizeMB int

	// MaxBackups is how many rotated files to keep.
	MaxBackups int

	// MaxAgeDays is how long to keep rotated files.
	MaxAgeDays int
}

// Writer returns the shared log destination for the given options.
func Writer(opts Options) io.Writer {
	if opts.File == "" {
		return os.Stderr
	}
	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	return io.MultiWriter(os.Stderr, rotator)
}

// New returns a component logger with the given bracketed prefix, e.g.
// "[orchestrator] ", writing to w.
func New(w io.Writer, prefix string) *log.Logger {
	return log.New(w, prefix, log.LstdFlags)
}
