// logger.go - Structured logging for the pool daemon
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the daemon logger: console plus optional file output, and a
// separate audit stream for security-relevant events.
type Logger struct {
	zerolog.Logger

	file      *os.File
	auditFile *os.File
	audit     *zerolog.Logger
}

// NewLogger creates a new logger instance
func NewLogger(level string, logFile string, auditFile string) (*Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	logger := &Logger{}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}}

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.file = file
		writers = append(writers, file)
	}

	if auditFile != "" {
		file, err := os.OpenFile(auditFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			logger.Close()
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		logger.auditFile = file
		audit := zerolog.New(file).With().Timestamp().Str("stream", "audit").Logger()
		logger.audit = &audit
	}

	logger.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().Timestamp().Logger()
	return logger, nil
}

// Close closes the logger and its files
func (l *Logger) Close() error {
	var first error
	for _, f := range []*os.File{l.file, l.auditFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Audit logs an audit event. Details must never contain secrets.
func (l *Logger) Audit(event string, details map[string]interface{}) {
	if l.audit == nil {
		return
	}
	l.audit.Log().Str("event", event).Fields(details).Send()
}
