package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authorization events
	EventTypeAuthzPermissionCheck EventType = "authz.permission_check"
	EventTypeAuthzAccessDenied    EventType = "authz.access_denied"

	// Role association lifecycle
	EventTypeRoleGrant      EventType = "role.grant"
	EventTypeRoleOverride   EventType = "role.override_update"
	EventTypeRoleDeactivate EventType = "role.deactivate"

	// Admin events
	EventTypeAdminUserCreate  EventType = "admin.user_create"
	EventTypeAdminFlagsUpdate EventType = "admin.user_flags_update"
	EventTypeAdminPromotion   EventType = "admin.legacy_promotion"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being accessed
type ResourceType string

const (
	ResourceTypeUser            ResourceType = "user"
	ResourceTypeRoleAssociation ResourceType = "role_association"
	ResourceTypeFeature         ResourceType = "feature"
	ResourceTypeCapability      ResourceType = "capability"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// ActorID is the user who performed the action, "migration" for system promotions
	ActorID      string `json:"actor_id,omitempty"`
	TargetUserID string `json:"target_user_id,omitempty"`
	TenantID     string `json:"tenant_id,omitempty"`

	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Changes tracking (before/after for updates)
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
