package rbac

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kkjha00007/resigate/pkg/audit"
	"github.com/kkjha00007/resigate/pkg/contextkeys"
	"github.com/kkjha00007/resigate/pkg/httputil"
	"github.com/kkjha00007/resigate/pkg/middleware"
	"github.com/kkjha00007/resigate/pkg/observability"
)

// Directory loads authorization records. Implementations return
// ErrUserNotFound when no record exists.
type Directory interface {
	GetUser(ctx context.Context, userID string) (*User, error)
}

// WithUser stores the loaded caller record in the context
func WithUser(ctx context.Context, user *User) context.Context {
	return contextkeys.WithCaller(ctx, user)
}

// UserFromContext returns the caller record loaded by PermissionMiddleware
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(contextkeys.CallerKey).(*User)
	return user, ok && user != nil
}

// PermissionMiddleware provides middleware for permission checking
type PermissionMiddleware struct {
	checker     Checker
	directory   Directory
	metrics     *observability.Metrics
	auditLogger audit.Logger
	tracer      trace.Tracer
}

// MiddlewareOption configures a PermissionMiddleware
type MiddlewareOption func(*PermissionMiddleware)

// WithMetrics records authorization decisions
func WithMetrics(metrics *observability.Metrics) MiddlewareOption {
	return func(pm *PermissionMiddleware) { pm.metrics = metrics }
}

// WithAuditLogger records denied requests
func WithAuditLogger(logger audit.Logger) MiddlewareOption {
	return func(pm *PermissionMiddleware) {
		if logger != nil {
			pm.auditLogger = logger
		}
	}
}

// WithTracer sets the tracer used for authorization spans
func WithTracer(tracer trace.Tracer) MiddlewareOption {
	return func(pm *PermissionMiddleware) {
		if tracer != nil {
			pm.tracer = tracer
		}
	}
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker Checker, directory Directory, opts ...MiddlewareOption) *PermissionMiddleware {
	pm := &PermissionMiddleware{
		checker:     checker,
		directory:   directory,
		auditLogger: audit.NoOpLogger(),
		tracer:      observability.Tracer(),
	}
	for _, opt := range opts {
		opt(pm)
	}
	return pm
}

// LoadUser resolves the authenticated caller into a User and stores it in the
// request context. It responds 401 without authentication, 403 when the
// authenticated identity has no authorization record and 500 on store failure.
func (pm *PermissionMiddleware) LoadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		user, ok := pm.loadCaller(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func (pm *PermissionMiddleware) loadCaller(w http.ResponseWriter, r *http.Request) (*User, bool) {
	authCtx := middleware.GetAuthContext(r)
	if !authCtx.IsAuthenticated() {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}

	user, err := pm.directory.GetUser(r.Context(), authCtx.UserID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		httputil.WriteForbidden(w, "no authorization record for caller")
		return nil, false
	case err != nil:
		observability.FromContext(r.Context()).
			WithError(err).
			WithField("user_id", authCtx.UserID).
			Error("failed to load caller")
		httputil.WriteInternalError(w, err)
		return nil, false
	}
	return user, true
}

// RequirePermission creates middleware that requires permission on feature.
// The tenant comes from the {tenant_id} route variable; without one any
// tenant the caller belongs to satisfies the check.
func (pm *PermissionMiddleware) RequirePermission(feature Feature, perm Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return pm.LoadUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := mux.Vars(r)["tenant_id"]
			if ctx, ok := pm.authorize(w, r, feature, perm, tenantID); ok {
				next.ServeHTTP(w, r.WithContext(ctx))
			}
		}))
	}
}

// RequireRoutePermission is RequirePermission with the feature and
// permission taken from the {feature} and {permission} route variables.
func (pm *PermissionMiddleware) RequireRoutePermission(next http.Handler) http.Handler {
	return pm.LoadUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		feature := Feature(vars["feature"])
		perm := Permission(vars["permission"])
		if feature == "" || perm == "" {
			httputil.WriteBadRequest(w, "feature and permission are required")
			return
		}
		if ctx, ok := pm.authorize(w, r, feature, perm, vars["tenant_id"]); ok {
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	}))
}

// RequireCapability creates middleware that requires the named predicate to hold
func (pm *PermissionMiddleware) RequireCapability(name string, predicate Predicate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return pm.LoadUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, _ := UserFromContext(r.Context())
			allowed := predicate(user)
			pm.metrics.RecordDecision("capability", name, allowed)

			if !allowed {
				pm.auditDenial(r, user.ID, audit.ResourceTypeCapability, name, "", fmt.Sprintf("capability %s required", name))
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func (pm *PermissionMiddleware) authorize(w http.ResponseWriter, r *http.Request, feature Feature, perm Permission, tenantID string) (context.Context, bool) {
	ctx, span := pm.tracer.Start(r.Context(), "rbac.authorize",
		trace.WithAttributes(
			attribute.String("rbac.feature", string(feature)),
			attribute.String("rbac.permission", string(perm)),
			attribute.String("rbac.tenant_id", tenantID),
		),
	)
	defer span.End()

	user, _ := UserFromContext(ctx)

	start := time.Now()
	decision := pm.checker.Check(user, Query{
		UserID:     user.ID,
		Feature:    feature,
		Permission: perm,
		TenantID:   tenantID,
	})
	pm.metrics.ObserveResolve(time.Since(start))
	pm.metrics.RecordDecision(string(feature), string(perm), decision.Allowed)

	span.SetAttributes(
		attribute.String("rbac.user_id", user.ID),
		attribute.Bool("rbac.allowed", decision.Allowed),
	)

	if !decision.Allowed {
		span.SetStatus(codes.Error, decision.Reason)
		pm.auditDenial(r.WithContext(ctx), user.ID, audit.ResourceTypeFeature,
			string(feature)+":"+string(perm), tenantID, decision.Reason)
		httputil.WriteForbidden(w, "insufficient permissions")
		return ctx, false
	}
	return ctx, true
}

func (pm *PermissionMiddleware) auditDenial(r *http.Request, actorID string, resourceType audit.ResourceType, resourceID, tenantID, reason string) {
	err := pm.auditLogger.LogAuthorization(r.Context(), audit.EventTypeAuthzAccessDenied,
		actorID, resourceType, resourceID, tenantID, audit.EventStatusDenied, reason)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("failed to record access denial")
	}
}
