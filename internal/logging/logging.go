// Package logging builds the component loggers used across a sync run.
// Output goes to a size-rotated file, optionally mirrored to stderr when
// running verbose.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the shared log sink.
type Options struct {
	// File is the rotating log file path. Empty logs to stderr only.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Verbose mirrors the file log to stderr.
	Verbose bool
}

// Sink is a shared log destination handing out per-component loggers.
type Sink struct {
	w      io.Writer
	closer io.Closer
}

// New opens the log sink. The log directory is created if needed.
func New(opts Options) (*Sink, error) {
	var writers []io.Writer
	var closer io.Closer

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, err
		}
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		writers = append(writers, lj)
		closer = lj
	}
	if opts.Verbose || opts.File == "" {
		writers = append(writers, os.Stderr)
	}

	return &Sink{w: io.MultiWriter(writers...), closer: closer}, nil
}

// Logger returns a logger writing to the sink with a component prefix,
// e.g. "[engine] ".
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s.w, "["+component+"] ", log.LstdFlags)
}

// Close flushes and closes the underlying file, if any.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Discard returns a logger that drops everything. Used in tests and for
// optional components.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
