// Package logging points the standard logger at stderr and, when a path is
// configured, a size-rotated log file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup redirects the standard logger. The returned Closer flushes the log
// file and must be closed on shutdown.
func Setup(path string) io.Closer {
	if path == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}
	}
	rotator := NewRotator(path)
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return rotator
}

// NewRotator returns a writer that rotates path at 50MB, keeping five
// compressed backups for at most 14 days.
func NewRotator(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
}
