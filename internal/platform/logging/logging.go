// Package logging provides structured logging with trace ID propagation,
// built on logrus the way the teacher's infrastructure/logging package is.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried by this package.
type ContextKey string

const (
	TraceIDKey  ContextKey = "trace_id"
	IdentityKey ContextKey = "identity_id"
)

// Logger wraps logrus.Logger with registry-node-specific fields.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a Logger for the named component.
func New(service, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, service: service}
}

// NewFromEnv builds a Logger from LOG_LEVEL / LOG_FORMAT, defaulting to
// info/json.
func NewFromEnv(service string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(service, level, format)
}

// WithContext returns a log entry carrying the service name plus any
// trace/identity values found on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if traceID := GetTraceID(ctx); traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	if identityID := GetIdentityID(ctx); identityID != "" {
		entry = entry.WithField("identity_id", identityID)
	}
	return entry
}

// WithFields returns a log entry carrying the service name plus fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["service"] = l.service
	return l.Logger.WithFields(fields)
}

// WithError returns a log entry carrying the service name plus an error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"service": l.service, "error": err.Error()})
}

// NewTraceID generates a fresh trace identifier.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID stores a trace ID on ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from ctx, or "".
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithIdentityID stores the acting identity's DID on ctx.
func WithIdentityID(ctx context.Context, identityID string) context.Context {
	return context.WithValue(ctx, IdentityKey, identityID)
}

// GetIdentityID retrieves the acting identity's DID from ctx, or "".
func GetIdentityID(ctx context.Context) string {
	if v, ok := ctx.Value(IdentityKey).(string); ok {
		return v
	}
	return ""
}

// LogRequest logs an inbound HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}).Info("http request")
}

// LogAnchorAttempt logs one anchoring attempt outcome.
func (l *Logger) LogAnchorAttempt(ctx context.Context, chain, batchID string, attempt int, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"chain":    chain,
		"batch_id": batchID,
		"attempt":  attempt,
	})
	if err != nil {
		entry.WithError(err).Warn("anchor attempt failed")
		return
	}
	entry.Info("anchor attempt succeeded")
}

// LogSyncEvent logs a federation sync outcome for one peer.
func (l *Logger) LogSyncEvent(ctx context.Context, peer string, fetched int, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"peer":    peer,
		"fetched": fetched,
	})
	if err != nil {
		entry.WithError(err).Warn("peer sync failed")
		return
	}
	entry.Info("peer sync completed")
}

var defaultLogger *Logger

// Default returns (and lazily creates) the package-wide logger.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = NewFromEnv("registryd")
	}
	return defaultLogger
}
