// Package logging constructs the loggers used across fieldboard.
//
// Every component takes an injected *log.Logger with a bracketed tag
// prefix (e.g. "[reconcile] "). This package centralizes construction
// so the serve command can mirror all component output into a rotating
// log file in addition to stderr.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction.
type Options struct {
	// FilePath enables mirroring log output into a rotating file.
	// Empty disables the file sink.
	FilePath string

	// MaxSizeMB is the size at which the log file is rotated.
	// Zero uses 10 MB.
	MaxSizeMB int

	// MaxBackups is how many rotated files to keep. Zero keeps 3.
	MaxBackups int
}

// Factory creates tagged loggers that share a common sink.
type Factory struct {
	sink io.Writer
}

// NewFactory creates a logger factory writing to stderr and, when
// opts.FilePath is set, a rotating file managed by lumberjack.
//
// The rotating file is never reopened or reset for the lifetime of
// the process.
func NewFactory(opts Options) *Factory {
	var sink io.Writer = os.Stderr

	if opts.FilePath != "" {
		maxSize := opts.MaxSizeMB
		if maxSize == 0 {
			maxSize = 10
		}
		maxBackups := opts.MaxBackups
		if maxBackups == 0 {
			maxBackups = 3
		}

		sink = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
		})
	}

	return &Factory{sink: sink}
}

// New returns a logger with the given bracketed tag prefix.
//
// Example:
//
//	logger := factory.New("reconcile")
//	logger.Printf("booking synced: %s", id)
func (f *Factory) New(tag string) *log.Logger {
	return log.New(f.sink, "["+tag+"] ", log.LstdFlags)
}

// Default returns a stderr logger with the given tag, for callers
// that don't carry a factory (tests, one-shot commands).
func Default(tag string) *log.Logger {
	return log.New(os.Stderr, "["+tag+"] ", log.LstdFlags)
}
