// Package logging provides structured logging with trace ID support for the CSE.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys.
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID.
	TraceIDKey ContextKey = "trace_id"
	// OriginatorKey is the context key for the request originator (fr).
	OriginatorKey ContextKey = "originator"
	// RequestIDKey is the context key for the oneM2M request identifier (rqi).
	RequestIDKey ContextKey = "request_id"
	// ServiceKey is the context key for the component name.
	ServiceKey ContextKey = "service"
)

// Logger wraps logrus.Logger with CSE-specific structured fields.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a new Logger instance.
func New(service, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{
		Logger:  logger,
		service: service,
	}
}

// NewFromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT environment variables.
// Defaults to "info" and "json" when unset.
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

// WithContext creates a new logger entry decorated with request-scoped values.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)

	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if originator := ctx.Value(OriginatorKey); originator != nil {
		entry = entry.WithField("originator", originator)
	}
	if rqi := ctx.Value(RequestIDKey); rqi != nil {
		entry = entry.WithField("rqi", rqi)
	}

	return entry
}

// WithFields creates a new logger entry with custom fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["service"] = l.service
	return l.Logger.WithFields(fields)
}

// WithError creates a new logger entry carrying an error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"service": l.service,
		"error":   err.Error(),
	})
}

// SetOutput sets the logger output.
func (l *Logger) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// Context helper functions.

// NewTraceID generates a new trace ID.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from context.
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// WithOriginator adds the request originator (fr) to the context.
func WithOriginator(ctx context.Context, originator string) context.Context {
	return context.WithValue(ctx, OriginatorKey, originator)
}

// GetOriginator retrieves the request originator from context.
func GetOriginator(ctx context.Context) string {
	if originator, ok := ctx.Value(OriginatorKey).(string); ok {
		return originator
	}
	return ""
}

// WithRequestID adds the oneM2M request identifier (rqi) to the context.
func WithRequestID(ctx context.Context, rqi string) context.Context {
	return context.WithValue(ctx, RequestIDKey, rqi)
}

// GetRequestID retrieves the oneM2M request identifier from context.
func GetRequestID(ctx context.Context) string {
	if rqi, ok := ctx.Value(RequestIDKey).(string); ok {
		return rqi
	}
	return ""
}

// Structured logging helpers.

// LogRequest logs an HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}).Info("http request")
}

// LogDispatch logs the outcome of a dispatched CRUDN operation.
func (l *Logger) LogDispatch(ctx context.Context, op, to string, rsc int, duration time.Duration, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"op":          op,
		"to":          to,
		"rsc":         rsc,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("dispatch failed")
		return
	}
	entry.Debug("dispatch completed")
}

// LogNotification logs an outbound notification attempt.
func (l *Logger) LogNotification(ctx context.Context, subRI, target string, net int, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"subscription": subRI,
		"target":       target,
		"net":          net,
	})
	if err != nil {
		entry.WithError(err).Warn("notification failed")
		return
	}
	entry.Debug("notification delivered")
}

// LogSecurityEvent logs an access-control or rate-limiting decision.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	entry := l.WithContext(ctx).WithField("event", event)
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	entry.Warn("security event")
}

// LogStorage logs a storage-layer operation.
func (l *Logger) LogStorage(ctx context.Context, op, table string, duration time.Duration, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"op":          op,
		"table":       table,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("storage operation failed")
		return
	}
	entry.Debug("storage operation completed")
}
