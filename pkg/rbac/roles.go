package rbac

// Role is a named bundle of default permissions. Current and legacy names
// share this type; Canonical maps legacy names onto current ones.
type Role string

const (
	RoleOwnerApp      Role = "owner_app"
	RolePlatformAdmin Role = "platform_admin"
	RoleSocietyAdmin  Role = "society_admin"
	RoleOps           Role = "ops"
	RoleSupport       Role = "support"
	RoleResident      Role = "resident"
	RoleGuard         Role = "guard"

	// Legacy vocabulary, still found on pre multi-role user records
	RoleOwner      Role = "owner"
	RoleRenter     Role = "renter"
	RoleSuperadmin Role = "superadmin"
)

// Tier is the coarse capability group a role belongs to
type Tier string

const (
	TierNone        Tier = ""
	TierAdmin       Tier = "admin"
	TierTenantAdmin Tier = "tenant-admin"
	TierResident    Tier = "resident"
	TierGuard       Tier = "guard"
)

// AllRoles lists every recognized role, legacy names included
var AllRoles = []Role{
	RoleOwnerApp,
	RolePlatformAdmin,
	RoleSocietyAdmin,
	RoleOps,
	RoleSupport,
	RoleResident,
	RoleGuard,
	RoleOwner,
	RoleRenter,
	RoleSuperadmin,
}

var legacyAliases = map[Role]Role{
	RoleOwner:      RoleResident,
	RoleRenter:     RoleResident,
	RoleSuperadmin: RoleSocietyAdmin,
}

// IsKnown reports whether the role is part of the enumeration
func (r Role) IsKnown() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

// IsLegacy reports whether the role is a pre multi-role name
func (r Role) IsLegacy() bool {
	_, ok := legacyAliases[r]
	return ok
}

// Canonical resolves a legacy role name to its current equivalent.
// Current and unknown roles are returned unchanged.
func (r Role) Canonical() Role {
	if alias, ok := legacyAliases[r]; ok {
		return alias
	}
	return r
}

// Tier returns the capability group of the role after alias resolution
func (r Role) Tier() Tier {
	switch r.Canonical() {
	case RoleOwnerApp, RolePlatformAdmin:
		return TierAdmin
	case RoleSocietyAdmin:
		return TierTenantAdmin
	case RoleResident:
		return TierResident
	case RoleGuard:
		return TierGuard
	default:
		return TierNone
	}
}

// IsPlatformRole reports roles that act across every society. Only callers
// with platform scope may grant or change them.
func (r Role) IsPlatformRole() bool {
	switch r.Canonical() {
	case RoleOwnerApp, RolePlatformAdmin, RoleOps, RoleSupport:
		return true
	default:
		return false
	}
}
