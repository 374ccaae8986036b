package rbac

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/kkjha00007/resigate/pkg/audit"
	"github.com/kkjha00007/resigate/pkg/httputil"
	"github.com/kkjha00007/resigate/pkg/observability"
)

// RoleManager applies administrative changes to authorization records
type RoleManager interface {
	AssignRole(ctx context.Context, userID string, req AssignRoleRequest, grantedBy string) (*RoleAssociation, error)
	UpdatePermissions(ctx context.Context, userID, associationID string, overrides map[Feature][]Permission, actor string) (*RoleAssociation, error)
	Deactivate(ctx context.Context, userID, associationID, actor string) (*RoleAssociation, error)
	SetFlags(ctx context.Context, userID string, flags FlagsUpdate, actor string) (*User, error)
	CreateUser(ctx context.Context, req CreateUserRequest, actor string) (*User, error)
	PromoteLegacy(ctx context.Context, userID, actor string) (*User, bool, error)
}

// Handlers provides HTTP handlers for RBAC operations
type Handlers struct {
	checker    *PermissionChecker
	directory  Directory
	roles      RoleManager
	middleware *PermissionMiddleware
	metrics    *observability.Metrics
}

// NewHandlers creates new RBAC handlers
func NewHandlers(checker *PermissionChecker, directory Directory, roles RoleManager, pm *PermissionMiddleware, metrics *observability.Metrics) *Handlers {
	return &Handlers{
		checker:    checker,
		directory:  directory,
		roles:      roles,
		middleware: pm,
		metrics:    metrics,
	}
}

// RegisterRoutes registers all RBAC routes. Administration routes are gated
// on IsAdmin; each handler then limits society administrators to the
// societies they manage.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	authenticated := h.middleware.LoadUser
	admin := h.middleware.RequireCapability("is_admin", IsAdmin)

	// Caller
	router.Handle("/rbac/catalog", authenticated(http.HandlerFunc(h.GetCatalog))).Methods("GET")
	router.Handle("/rbac/me/permissions", authenticated(http.HandlerFunc(h.GetMyPermissions))).Methods("GET")
	router.Handle("/rbac/me/capabilities", authenticated(http.HandlerFunc(h.GetMyCapabilities))).Methods("GET")
	router.Handle("/rbac/check", authenticated(http.HandlerFunc(h.CheckPermission))).Methods("POST")

	// Administration
	router.Handle("/rbac/users", admin(http.HandlerFunc(h.CreateUser))).Methods("POST")
	router.Handle("/rbac/users/{user_id}/permissions", admin(http.HandlerFunc(h.GetUserPermissions))).Methods("GET")
	router.Handle("/rbac/users/{user_id}/roles", admin(http.HandlerFunc(h.GetUserRoles))).Methods("GET")
	router.Handle("/rbac/users/{user_id}/roles", admin(http.HandlerFunc(h.AssignRole))).Methods("POST")
	router.Handle("/rbac/users/{user_id}/roles/{association_id}/permissions", admin(http.HandlerFunc(h.UpdatePermissions))).Methods("PUT")
	router.Handle("/rbac/users/{user_id}/roles/{association_id}/deactivate", admin(http.HandlerFunc(h.DeactivateRole))).Methods("POST")
	router.Handle("/rbac/users/{user_id}/flags", admin(http.HandlerFunc(h.UpdateFlags))).Methods("PUT")
	router.Handle("/rbac/users/{user_id}/promote", admin(http.HandlerFunc(h.PromoteLegacy))).Methods("POST")

	// Tenant-scoped probe for UI route guards
	router.Handle("/societies/{tenant_id}/access/{feature}/{permission}",
		h.middleware.RequireRoutePermission(http.HandlerFunc(h.AccessGranted))).Methods("GET")
}

// PermissionsResponse is the resolved view of one user
type PermissionsResponse struct {
	UserID       string               `json:"user_id"`
	Tenants      EffectivePermissions `json:"tenants"`
	Capabilities Capabilities         `json:"capabilities"`
	ResolvedAt   time.Time            `json:"resolved_at"`
}

// RolesResponse lists the stored associations of one user. Legacy is set
// when the user has none and the legacy fields imply one.
type RolesResponse struct {
	UserID           string            `json:"user_id"`
	RoleAssociations []RoleAssociation `json:"role_associations"`
	Legacy           *RoleAssociation  `json:"legacy,omitempty"`
	IsStaff          bool              `json:"is_staff"`
	CanImpersonate   bool              `json:"can_impersonate"`
}

// GetCatalog returns the feature list and per-role defaults
func (h *Handlers) GetCatalog(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.checker.Catalog().View())
}

// GetMyPermissions resolves the caller
func (h *Handlers) GetMyPermissions(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	httputil.WriteSuccess(w, h.permissionsOf(user))
}

// GetMyCapabilities evaluates the coarse predicates for the caller
func (h *Handlers) GetMyCapabilities(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	httputil.WriteSuccess(w, h.checker.Capabilities(user))
}

// GetUserPermissions resolves another user
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	user, ok := h.loadVisibleTarget(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, h.permissionsOf(user))
}

// GetUserRoles lists the role associations of a user, inactive ones included
func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	user, ok := h.loadVisibleTarget(w, r)
	if !ok {
		return
	}

	resp := RolesResponse{
		UserID:           user.ID,
		RoleAssociations: user.RoleAssociations,
		IsStaff:          user.IsStaff,
		CanImpersonate:   user.CanImpersonate,
	}
	if resp.RoleAssociations == nil {
		resp.RoleAssociations = []RoleAssociation{}
	}
	if legacy, ok := LegacyAssociation(user, h.checker.now()); ok {
		resp.Legacy = &legacy
	}
	httputil.WriteSuccess(w, resp)
}

// AssignRole grants a new role association
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}

	var req AssignRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	caller, _ := UserFromContext(r.Context())
	if !CanGrantRole(h.checker, caller, req.Role, req.TenantID) {
		h.forbid(w, r, audit.ResourceTypeRoleAssociation, userID, req.TenantID,
			"cannot grant "+string(req.Role)+" in "+TenantKey(req.TenantID))
		return
	}

	assoc, err := h.roles.AssignRole(r.Context(), userID, req, callerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, assoc)
}

// UpdatePermissionsRequest replaces the overrides of one association
type UpdatePermissionsRequest struct {
	CustomPermissions map[Feature][]Permission `json:"custom_permissions"`
}

// UpdatePermissions replaces the custom permissions of an association
func (h *Handlers) UpdatePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}
	associationID, ok := httputil.ParsePathStringOrError(w, r, "association_id")
	if !ok {
		return
	}

	var req UpdatePermissionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !h.authorizeAssociation(w, r, userID, associationID) {
		return
	}

	assoc, err := h.roles.UpdatePermissions(r.Context(), userID, associationID, req.CustomPermissions, callerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, assoc)
}

// DeactivateRole marks an association inactive
func (h *Handlers) DeactivateRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}
	associationID, ok := httputil.ParsePathStringOrError(w, r, "association_id")
	if !ok {
		return
	}

	if !h.authorizeAssociation(w, r, userID, associationID) {
		return
	}

	assoc, err := h.roles.Deactivate(r.Context(), userID, associationID, callerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, assoc)
}

// UpdateFlags changes the staff and impersonation flags. Both flags act
// across societies, so only platform administrators may set them.
func (h *Handlers) UpdateFlags(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}

	var req FlagsUpdate
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.IsEmpty() {
		httputil.WriteBadRequest(w, "no flags to update")
		return
	}
	if caller, _ := UserFromContext(r.Context()); !HasPlatformScope(caller) {
		h.forbid(w, r, audit.ResourceTypeUser, userID, "", "flags require platform scope")
		return
	}

	user, err := h.roles.SetFlags(r.Context(), userID, req, callerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, h.checker.Capabilities(user))
}

// CreateUser registers a new authorization record
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	caller, _ := UserFromContext(r.Context())
	switch {
	case (req.IsStaff || req.CanImpersonate) && !HasPlatformScope(caller):
		h.forbid(w, r, audit.ResourceTypeUser, req.ID, req.TenantID, "flags require platform scope")
		return
	case !CanGrantRole(h.checker, caller, req.PrimaryRole, req.TenantID):
		h.forbid(w, r, audit.ResourceTypeUser, req.ID, req.TenantID,
			"cannot create "+string(req.PrimaryRole)+" in "+TenantKey(req.TenantID))
		return
	}

	user, err := h.roles.CreateUser(r.Context(), req, callerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, user)
}

// PromoteResponse reports the outcome of a legacy promotion
type PromoteResponse struct {
	UserID           string            `json:"user_id"`
	Promoted         bool              `json:"promoted"`
	RoleAssociations []RoleAssociation `json:"role_associations"`
}

// PromoteLegacy stores the association implied by the legacy role fields
func (h *Handlers) PromoteLegacy(w http.ResponseWriter, r *http.Request) {
	target, ok := h.loadTarget(w, r)
	if !ok {
		return
	}
	caller, _ := UserFromContext(r.Context())
	if legacy, isLegacy := LegacyAssociation(target, h.checker.now()); isLegacy {
		if !CanGrantRole(h.checker, caller, legacy.Role, legacy.TenantID) {
			h.forbid(w, r, audit.ResourceTypeUser, target.ID, legacy.TenantID, "legacy role outside caller's scope")
			return
		}
	} else if !CanViewUser(h.checker, caller, target) {
		h.forbid(w, r, audit.ResourceTypeUser, target.ID, "", "user outside caller's societies")
		return
	}

	user, promoted, err := h.roles.PromoteLegacy(r.Context(), target.ID, callerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := PromoteResponse{
		UserID:           user.ID,
		Promoted:         promoted,
		RoleAssociations: user.RoleAssociations,
	}
	if resp.RoleAssociations == nil {
		resp.RoleAssociations = []RoleAssociation{}
	}
	httputil.WriteSuccess(w, resp)
}

// CheckPermission evaluates a query. Callers may check themselves; checking
// another user requires platform scope or user-management:view in a society
// that user belongs to.
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	caller, _ := UserFromContext(r.Context())

	var q Query
	if !httputil.ParseJSONOrError(w, r, &q) {
		return
	}
	if q.Feature == "" || q.Permission == "" {
		httputil.WriteBadRequest(w, "feature and permission are required")
		return
	}
	if q.UserID == "" {
		q.UserID = caller.ID
	}

	subject := caller
	if q.UserID != caller.ID {
		user, err := h.directory.GetUser(r.Context(), q.UserID)
		if err != nil && !errors.Is(err, ErrUserNotFound) {
			h.writeError(w, r, err)
			return
		}
		// Unknown users are only reported as such to platform callers
		if !HasPlatformScope(caller) && !CanViewUser(h.checker, caller, user) {
			h.forbid(w, r, audit.ResourceTypeUser, q.UserID, q.TenantID, "user outside caller's societies")
			return
		}
		subject = user
	}

	decision := h.checker.Check(subject, q)
	h.metrics.RecordDecision(string(q.Feature), string(q.Permission), decision.Allowed)
	httputil.WriteSuccess(w, decision)
}

// AccessGranted answers the tenant probe once RequireRoutePermission passed
func (h *Handlers) AccessGranted(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	httputil.WriteSuccess(w, map[string]interface{}{
		"allowed":    true,
		"tenant_id":  vars["tenant_id"],
		"feature":    vars["feature"],
		"permission": vars["permission"],
	})
}

func (h *Handlers) permissionsOf(user *User) PermissionsResponse {
	start := time.Now()
	effective := h.checker.Resolve(user)
	h.metrics.ObserveResolve(time.Since(start))

	return PermissionsResponse{
		UserID:       user.ID,
		Tenants:      effective,
		Capabilities: h.checker.Capabilities(user),
		ResolvedAt:   h.checker.now(),
	}
}

func (h *Handlers) loadTarget(w http.ResponseWriter, r *http.Request) (*User, bool) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return nil, false
	}
	user, err := h.directory.GetUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return user, true
}

// loadVisibleTarget loads the {user_id} record and refuses callers who may
// not read it
func (h *Handlers) loadVisibleTarget(w http.ResponseWriter, r *http.Request) (*User, bool) {
	user, ok := h.loadTarget(w, r)
	if !ok {
		return nil, false
	}
	caller, _ := UserFromContext(r.Context())
	if !CanViewUser(h.checker, caller, user) {
		h.forbid(w, r, audit.ResourceTypeUser, user.ID, "", "user outside caller's societies")
		return nil, false
	}
	return user, true
}

// authorizeAssociation checks that the caller could have granted the
// association being changed. Role and tenant of an association never change
// after it is granted.
func (h *Handlers) authorizeAssociation(w http.ResponseWriter, r *http.Request, userID, associationID string) bool {
	target, err := h.directory.GetUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return false
	}
	assoc, ok := target.Association(associationID)
	if !ok {
		h.writeError(w, r, ErrAssociationNotFound)
		return false
	}

	caller, _ := UserFromContext(r.Context())
	if !CanGrantRole(h.checker, caller, assoc.Role, assoc.TenantID) {
		h.forbid(w, r, audit.ResourceTypeRoleAssociation, associationID, assoc.TenantID,
			"cannot change "+string(assoc.Role)+" in "+TenantKey(assoc.TenantID))
		return false
	}
	return true
}

func (h *Handlers) forbid(w http.ResponseWriter, r *http.Request, resourceType audit.ResourceType, resourceID, tenantID, reason string) {
	h.middleware.auditDenial(r, callerID(r), resourceType, resourceID, tenantID, reason)
	h.metrics.RecordDecision("admin_scope", string(resourceType), false)
	httputil.WriteForbidden(w, "insufficient permissions")
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		httputil.WriteDetailedError(w, http.StatusBadRequest, "validation failed", validationErr.Fields)
	case errors.Is(err, ErrUserNotFound):
		httputil.WriteNotFoundError(w, "user not found")
	case errors.Is(err, ErrAssociationNotFound):
		httputil.WriteNotFoundError(w, "role association not found")
	case errors.Is(err, ErrAssociationInactive):
		httputil.WriteConflict(w, "role association is inactive")
	case errors.Is(err, ErrConcurrentModification):
		httputil.WriteConflict(w, "user was modified concurrently, retry the request")
	default:
		observability.FromContext(r.Context()).WithError(err).Error("rbac request failed")
		httputil.WriteInternalError(w, err)
	}
}

func callerID(r *http.Request) string {
	if user, ok := UserFromContext(r.Context()); ok {
		return user.ID
	}
	return ""
}
