package redisserver

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Field represents a structured log field
type Field struct {
	Key   string
	Value any
}

// Logger interface for custom logging implementations
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// MetricsCollector interface for metrics collection
type MetricsCollector interface {
	// RecordCommand records a processed command with its duration
	RecordCommand(cmd string, duration time.Duration, failed bool)

	// RecordConnection records a client connection being opened or closed
	RecordConnection(opened bool)

	// RecordBlockedClient adjusts the number of clients in a blocking read
	RecordBlockedClient(delta int)

	// RecordProtocolError records a connection closed by a read failure
	RecordProtocolError(kind string)

	// RecordKeyCount records the current number of live keys
	RecordKeyCount(count int64)

	// RecordSnapshotLoad records the startup snapshot load
	RecordSnapshotLoad(duration time.Duration, keys int)

	// RecordHandshake records a replication handshake attempt
	RecordHandshake(duration time.Duration, err error)
}

// slogLogger is the default Logger, backed by log/slog
type slogLogger struct {
	logger *slog.Logger
}

// NewLogger returns a Logger writing text records at level or above to w
func NewLogger(w io.Writer, level slog.Level) Logger {
	return &slogLogger{
		logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})),
	}
}

// NewSlogLogger adapts an existing slog.Logger
func NewSlogLogger(logger *slog.Logger) Logger {
	return &slogLogger{logger: logger}
}

func (l *slogLogger) Debug(msg string, fields ...Field) {
	l.log(slog.LevelDebug, msg, fields)
}

func (l *slogLogger) Info(msg string, fields ...Field) {
	l.log(slog.LevelInfo, msg, fields)
}

func (l *slogLogger) Error(msg string, fields ...Field) {
	l.log(slog.LevelError, msg, fields)
}

func (l *slogLogger) log(level slog.Level, msg string, fields []Field) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, len(fields))
	for i, f := range fields {
		attrs[i] = slog.Any(f.Key, f.Value)
	}
	l.logger.LogAttrs(ctx, level, msg, attrs...)
}

// nopLogger discards every record
type nopLogger struct{}

func (nopLogger) Debug(string, ...Field) {}
func (nopLogger) Info(string, ...Field)  {}
func (nopLogger) Error(string, ...Field) {}

// NopLogger returns a Logger that discards everything
func NopLogger() Logger {
	return nopLogger{}
}
