package audit

import (
	"context"
	"sync"
)

// MemoryLogger keeps events in memory. It backs tests and local development.
type MemoryLogger struct {
	mu     sync.Mutex
	events []*AuditEvent
}

// NewMemoryLogger creates an empty in-memory audit logger
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Log records the event
func (l *MemoryLogger) Log(ctx context.Context, event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

// LogAuthorization logs an authorization event
func (l *MemoryLogger) LogAuthorization(ctx context.Context, eventType EventType, actorID string, resourceType ResourceType, resourceID, tenantID string, status EventStatus, message string) error {
	return l.Log(ctx, authorizationEvent(ctx, eventType, actorID, resourceType, resourceID, tenantID, status, message))
}

// LogAdminAction logs an admin action event
func (l *MemoryLogger) LogAdminAction(ctx context.Context, eventType EventType, actorID, targetUserID string, changes *ChangeDetails, message string) error {
	return l.Log(ctx, adminEvent(ctx, eventType, actorID, targetUserID, changes, message))
}

// Events returns a copy of the recorded events in arrival order
func (l *MemoryLogger) Events() []*AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*AuditEvent, len(l.events))
	copy(out, l.events)
	return out
}

// EventsOfType returns the recorded events with the given type
func (l *MemoryLogger) EventsOfType(eventType EventType) []*AuditEvent {
	var out []*AuditEvent
	for _, e := range l.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Close is a no-op
func (l *MemoryLogger) Close() error {
	return nil
}
