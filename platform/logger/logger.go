// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// TenantIDKey is the context key for tenant ID
	TenantIDKey contextKey = "tenant_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with context values extracted.
// Supports request_id and tenant_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = newLogger.WithRequestID(requestID)
	}

	if tenantID, ok := ctx.Value(TenantIDKey).(string); ok && tenantID != "" {
		newLogger = newLogger.WithTenantID(tenantID)
	}

	return newLogger
}

// WithRequestID returns a logger with request ID
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("request_id", requestID)),
	}
}

// WithTenantID returns a logger with tenant ID
func (l *Logger) WithTenantID(tenantID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("tenant_id", tenantID)),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// GatewayError logs a media gateway transport failure
func (l *Logger) GatewayError(operation, instanceID string, attempt int, err error) {
	l.Warn("gateway_error",
		slog.String("operation", operation),
		slog.String("instance_id", instanceID),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)
}

// StageResult logs the outcome of one pipeline stage
func (l *Logger) StageResult(stage string, ok bool, latencyMs float64) {
	if ok {
		l.Info("pipeline_stage",
			slog.String("stage", stage),
			slog.Bool("ok", ok),
			slog.Float64("latency_ms", latencyMs),
		)
	} else {
		l.Warn("pipeline_stage",
			slog.String("stage", stage),
			slog.Bool("ok", ok),
			slog.Float64("latency_ms", latencyMs),
		)
	}
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}
