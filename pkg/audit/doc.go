// Package audit records who changed which authorization data, and which
// requests were denied.
//
// Every role grant, override update, deactivation, flag change and legacy
// promotion produces one AuditEvent. Denied authorization checks are recorded
// by the permission middleware.
//
//	logger, err := audit.NewFileLogrusLogger("/var/log/resigate/audit.log")
//	multi := audit.NewMultiLogger(logger, audit.NewMemoryLogger())
//	multi.LogAdminAction(ctx, audit.EventTypeRoleGrant, adminID, userID, changes, "role granted")
//
// Loggers are safe for concurrent use. FromContext returns a no-op logger
// when none was attached to the context.
package audit
