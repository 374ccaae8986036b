// Package contextkeys holds every request-scoped context key the service uses.
//
// Producers and consumers live in different packages (auth middleware,
// permission middleware, logging, audit), so the keys are declared once here:
//
//	ctx = contextkeys.WithAuth(ctx, authCtx)
//	authCtx := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey holds *auth.AuthContext, set by middleware.AuthMiddleware.
	AuthKey Key = "auth_context"

	// CallerKey holds the *rbac.User record of the authenticated caller,
	// set by rbac.PermissionMiddleware once the record is loaded.
	CallerKey Key = "caller"

	// RequestIDKey holds the X-Request-ID value
	RequestIDKey Key = "request_id"

	// UserIDKey holds the authenticated user id for log and audit fields
	UserIDKey Key = "user_id"

	// LoggerKey holds the request-scoped *observability.Logger
	LoggerKey Key = "logger"

	// AuditLoggerKey holds an audit.Logger
	AuditLoggerKey Key = "audit_logger"
)

func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

func WithCaller(ctx context.Context, caller interface{}) context.Context {
	return context.WithValue(ctx, CallerKey, caller)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

func WithAuditLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}

// GetRequestID returns the request id, or "" outside a request
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// GetUserID returns the authenticated user id, or "" for anonymous requests
func GetUserID(ctx context.Context) string {
	return stringValue(ctx, UserIDKey)
}

func stringValue(ctx context.Context, key Key) string {
	v, _ := ctx.Value(key).(string)
	return v
}
