package rbac

import "time"

// Capability predicates are tenant-blind. Admin routes pass the IsAdmin
// gate first and are then narrowed to the tenants the caller administers.

// HasPlatformScope reports an active owner_app or platform_admin grant,
// including one implied by legacy fields. Platform scope spans every tenant.
func HasPlatformScope(u *User) bool {
	for _, a := range effectiveAssociations(u, time.Time{}) {
		if a.Role.Tier() == TierAdmin {
			return true
		}
	}
	return false
}

// TenantKey returns the key an association's tenant resolves under
func TenantKey(tenantID string) string {
	if tenantID == "" {
		return UnknownTenant
	}
	return tenantID
}

// MemberTenants returns the tenant keys of the user's active associations
func MemberTenants(u *User) []string {
	seen := make(map[string]struct{})
	var tenants []string
	for _, a := range effectiveAssociations(u, time.Time{}) {
		key := TenantKey(a.TenantID)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		tenants = append(tenants, key)
	}
	return tenants
}

// CanManageTenant reports whether caller may change role grants in tenantID:
// platform scope, or user-management:manage in that tenant.
func CanManageTenant(checker Checker, caller *User, tenantID string) bool {
	if HasPlatformScope(caller) {
		return true
	}
	return checker.HasPermission(caller, FeatureUserManagement, PermissionManage, TenantKey(tenantID))
}

// CanGrantRole reports whether caller may grant role in tenantID
func CanGrantRole(checker Checker, caller *User, role Role, tenantID string) bool {
	if role.IsPlatformRole() {
		return HasPlatformScope(caller)
	}
	return CanManageTenant(checker, caller, tenantID)
}

// CanViewUser reports whether caller may read target's authorization record:
// the caller themselves, platform scope, or user-management:view in a tenant
// target belongs to.
func CanViewUser(checker Checker, caller, target *User) bool {
	if caller == nil || target == nil {
		return false
	}
	if caller.ID == target.ID || HasPlatformScope(caller) {
		return true
	}
	for _, tenant := range MemberTenants(target) {
		if checker.HasPermission(caller, FeatureUserManagement, PermissionView, tenant) {
			return true
		}
	}
	return false
}
