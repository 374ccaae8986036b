package rbac

import (
	"sort"
	"time"
)

// Feature identifies a functional area of the application subject to access control
type Feature string

const (
	FeatureVisitorManagement   Feature = "visitor-management"
	FeatureGatePasses          Feature = "gate-pass-management"
	FeatureBillingManagement   Feature = "billing-management"
	FeatureComplaintManagement Feature = "complaint-management"
	FeatureParkingManagement   Feature = "parking-management"
	FeatureNoticeManagement    Feature = "notice-management"
	FeatureUserManagement      Feature = "user-management"
	FeatureSocietyManagement   Feature = "society-management"
	FeatureFacilityManagement  Feature = "facility-management"
	FeatureVendorManagement    Feature = "vendor-management"
	FeatureStaffManagement     Feature = "staff-management"
	FeatureAuditLogs           Feature = "audit-logs"
	FeatureFeatureFlags        Feature = "feature-flags"
)

// Permission names an allowed operation within a feature
type Permission string

const (
	PermissionView    Permission = "view"
	PermissionCreate  Permission = "create"
	PermissionEdit    Permission = "edit"
	PermissionDelete  Permission = "delete"
	PermissionApprove Permission = "approve"
	PermissionExport  Permission = "export"
	PermissionManage  Permission = "manage"
)

// PermissionSet is an unordered set of permissions kept in sorted, de-duplicated form.
// A nil set and an empty set both grant nothing.
type PermissionSet []Permission

// NewPermissionSet builds a set, collapsing duplicates and dropping empty names
func NewPermissionSet(perms ...Permission) PermissionSet {
	seen := make(map[Permission]struct{}, len(perms))
	set := make(PermissionSet, 0, len(perms))
	for _, p := range perms {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		set = append(set, p)
	}
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return set
}

// Has reports whether the set contains the permission
func (s PermissionSet) Has(p Permission) bool {
	for _, candidate := range s {
		if candidate == p {
			return true
		}
	}
	return false
}

// Clone returns an independent copy that is never nil
func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	copy(out, s)
	return out
}

// FeaturePermissions maps a feature to its permission set
type FeaturePermissions map[Feature]PermissionSet

// EffectivePermissions maps a tenant identifier to its resolved feature permissions.
// It is derived on every call and never persisted.
type EffectivePermissions map[string]FeaturePermissions

// Allows reports whether tenant grants permission on feature. Missing keys deny.
func (e EffectivePermissions) Allows(tenantID string, feature Feature, perm Permission) bool {
	features, ok := e[tenantID]
	if !ok {
		return false
	}
	return features[feature].Has(perm)
}

// Tenants returns the tenant keys in sorted order
func (e EffectivePermissions) Tenants() []string {
	tenants := make([]string, 0, len(e))
	for t := range e {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)
	return tenants
}

// UnknownTenant is the bucket for associations that carry no tenant reference
const UnknownTenant = "unknown"

// RoleAssociation grants one role to one user within one tenant
type RoleAssociation struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Role     Role   `json:"role"`
	TenantID string `json:"tenant_id"`
	// UnitID optionally narrows the grant to a flat or unit inside the tenant
	UnitID *string `json:"unit_id,omitempty"`
	Active bool    `json:"active"`
	// CustomPermissions holds only the features the grantor customized.
	// A present key with an empty list is a deliberate "no access" override.
	CustomPermissions map[Feature][]Permission `json:"custom_permissions,omitempty"`
	GrantedAt         time.Time                `json:"granted_at"`
	GrantedBy         string                   `json:"granted_by"`
}

// Override returns the custom permission set for a feature and whether one exists
func (a RoleAssociation) Override(feature Feature) (PermissionSet, bool) {
	perms, ok := a.CustomPermissions[feature]
	if !ok {
		return nil, false
	}
	return NewPermissionSet(perms...), true
}

// User is the authorization record of one account
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`

	RoleAssociations []RoleAssociation `json:"role_associations,omitempty"`

	// PrimaryRole and TenantID predate multi-role assignments and are read
	// only when RoleAssociations is empty (plus the legacy predicate checks).
	PrimaryRole Role   `json:"primary_role,omitempty"`
	TenantID    string `json:"tenant_id,omitempty"`

	IsStaff        bool `json:"is_staff"`
	CanImpersonate bool `json:"can_impersonate"`

	// Version is the optimistic concurrency token maintained by stores
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsLegacy reports whether the record relies on the pre multi-role fields
func (u *User) IsLegacy() bool {
	return u != nil && len(u.RoleAssociations) == 0 && (u.PrimaryRole != "" || u.TenantID != "")
}

// Association returns the association with the given ID
func (u *User) Association(id string) (*RoleAssociation, bool) {
	if u == nil {
		return nil, false
	}
	for i := range u.RoleAssociations {
		if u.RoleAssociations[i].ID == id {
			return &u.RoleAssociations[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy so callers can mutate without touching shared snapshots
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	if u.RoleAssociations != nil {
		out.RoleAssociations = make([]RoleAssociation, len(u.RoleAssociations))
		for i, a := range u.RoleAssociations {
			out.RoleAssociations[i] = a.clone()
		}
	}
	return &out
}

func (a RoleAssociation) clone() RoleAssociation {
	out := a
	if a.UnitID != nil {
		unit := *a.UnitID
		out.UnitID = &unit
	}
	if a.CustomPermissions != nil {
		out.CustomPermissions = make(map[Feature][]Permission, len(a.CustomPermissions))
		for f, perms := range a.CustomPermissions {
			cp := make([]Permission, len(perms))
			copy(cp, perms)
			out.CustomPermissions[f] = cp
		}
	}
	return out
}

// Query asks whether a user may perform Permission on Feature.
// An empty TenantID asks across every tenant the user belongs to.
type Query struct {
	UserID     string     `json:"user_id"`
	Feature    Feature    `json:"feature"`
	Permission Permission `json:"permission"`
	TenantID   string     `json:"tenant_id,omitempty"`
}

// Decision is the result of evaluating a Query
type Decision struct {
	Allowed        bool      `json:"allowed"`
	Reason         string    `json:"reason,omitempty"`
	MatchedTenants []string  `json:"matched_tenants,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// Capabilities bundles the coarse predicates used for UI and route gating
type Capabilities struct {
	IsAdmin         bool `json:"is_admin"`
	IsSocietyAdmin  bool `json:"is_society_admin"`
	IsOwnerOrRenter bool `json:"is_owner_or_renter"`
	IsGuard         bool `json:"is_guard"`
	IsStaff         bool `json:"is_staff"`
	CanImpersonate  bool `json:"can_impersonate"`
}

// AssignRoleRequest describes a new role association
type AssignRoleRequest struct {
	Role     Role    `json:"role" validate:"required,known_role"`
	TenantID string  `json:"tenant_id" validate:"required,max=128"`
	UnitID   *string `json:"unit_id,omitempty" validate:"omitempty,min=1,max=128"`
	// CustomPermissions optionally customizes features at grant time
	CustomPermissions map[Feature][]Permission `json:"custom_permissions,omitempty"`
}

// FlagsUpdate changes the stored account flags. Nil fields are left as they are.
type FlagsUpdate struct {
	IsStaff        *bool `json:"is_staff,omitempty"`
	CanImpersonate *bool `json:"can_impersonate,omitempty"`
}

// IsEmpty reports whether the update changes nothing
func (f FlagsUpdate) IsEmpty() bool {
	return f.IsStaff == nil && f.CanImpersonate == nil
}

// CreateUserRequest registers a new authorization record. PrimaryRole and
// TenantID are accepted for records imported from the legacy model.
type CreateUserRequest struct {
	ID             string `json:"id" validate:"required,max=128"`
	Email          string `json:"email,omitempty" validate:"omitempty,email"`
	Name           string `json:"name,omitempty" validate:"omitempty,max=256"`
	PrimaryRole    Role   `json:"primary_role,omitempty" validate:"omitempty,known_role"`
	TenantID       string `json:"tenant_id,omitempty" validate:"omitempty,max=128"`
	IsStaff        bool   `json:"is_staff"`
	CanImpersonate bool   `json:"can_impersonate"`
}
