package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kkjha00007/resigate/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// LogAuthorization logs the outcome of an authorization decision
	LogAuthorization(ctx context.Context, eventType EventType, actorID string, resourceType ResourceType, resourceID, tenantID string, status EventStatus, message string) error

	// LogAdminAction logs a change made to another user's authorization record
	LogAdminAction(ctx context.Context, eventType EventType, actorID, targetUserID string, changes *ChangeDetails, message string) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext retrieves the audit logger from context, or a no-op logger
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return NoOpLogger()
}

// NoOpLogger returns a logger that discards every event
func NoOpLogger() Logger {
	return &noOpLogger{}
}

type noOpLogger struct{}

func (l *noOpLogger) Log(ctx context.Context, event *AuditEvent) error {
	return nil
}

func (l *noOpLogger) LogAuthorization(ctx context.Context, eventType EventType, actorID string, resourceType ResourceType, resourceID, tenantID string, status EventStatus, message string) error {
	return nil
}

func (l *noOpLogger) LogAdminAction(ctx context.Context, eventType EventType, actorID, targetUserID string, changes *ChangeDetails, message string) error {
	return nil
}

func (l *noOpLogger) Close() error {
	return nil
}

// buildBaseEvent creates an event with identity, time and request ID populated
func buildBaseEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}
}

func authorizationEvent(ctx context.Context, eventType EventType, actorID string, resourceType ResourceType, resourceID, tenantID string, status EventStatus, message string) *AuditEvent {
	event := buildBaseEvent(ctx, eventType, status)
	event.ActorID = actorID
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.TenantID = tenantID
	event.Message = message
	return event
}

func adminEvent(ctx context.Context, eventType EventType, actorID, targetUserID string, changes *ChangeDetails, message string) *AuditEvent {
	event := buildBaseEvent(ctx, eventType, EventStatusSuccess)
	event.ActorID = actorID
	event.TargetUserID = targetUserID
	event.ResourceType = ResourceTypeUser
	event.ResourceID = targetUserID
	event.Changes = changes
	event.Message = message
	return event
}
