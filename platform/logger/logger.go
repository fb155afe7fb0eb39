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
	// UserIDKey is the context key for user ID
	UserIDKey contextKey = "user_id"
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
// Supports request_id, tenant_id, and user_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = &Logger{
			Logger: newLogger.With(slog.String("request_id", requestID)),
		}
	}

	if tenantID, ok := ctx.Value(TenantIDKey).(string); ok && tenantID != "" {
		newLogger = newLogger.WithTenantID(tenantID)
	}

	if userID, ok := ctx.Value(UserIDKey).(string); ok && userID != "" {
		newLogger = &Logger{
			Logger: newLogger.With(slog.String("user_id", userID)),
		}
	}

	return newLogger
}

// WithTenantID returns a logger with tenant ID
func (l *Logger) WithTenantID(tenantID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("tenant_id", tenantID)),
	}
}

// AuthzEvent logs authorization decisions for privileged mutations
func (l *Logger) AuthzEvent(operation, tenantID, commandingEmail string, allowed bool) {
	if allowed {
		l.Info("authz_event",
			slog.String("operation", operation),
			slog.String("tenant_id", tenantID),
			slog.String("commanding_user", commandingEmail),
			slog.Bool("allowed", allowed),
		)
	} else {
		l.Warn("authz_event",
			slog.String("operation", operation),
			slog.String("tenant_id", tenantID),
			slog.String("commanding_user", commandingEmail),
			slog.Bool("allowed", allowed),
		)
	}
}

// SagaStep logs a transfer saga sub-step outcome
func (l *Logger) SagaStep(tenantID, step string, err error) {
	if err == nil {
		l.Debug("saga_step",
			slog.String("tenant_id", tenantID),
			slog.String("step", step),
		)
		return
	}
	l.Warn("saga_step",
		slog.String("tenant_id", tenantID),
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
}

// IntegrityError logs a data-integrity violation requiring operator
// remediation. Always logged at the highest severity.
func (l *Logger) IntegrityError(tenantID, detail string, err error) {
	l.Error("integrity_error",
		slog.String("tenant_id", tenantID),
		slog.String("detail", detail),
		slog.String("error", err.Error()),
	)
}

// RegistryError logs tenant registry lookup failures
func (l *Logger) RegistryError(lookupKey string, err error) {
	l.Error("registry_error",
		slog.String("lookup", lookupKey),
		slog.String("error", err.Error()),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}
