package rbac

// Predicate is a coarse yes/no question about a user
type Predicate func(*User) bool

// Predicates are evaluated across all tenants: one qualifying active
// association anywhere is enough. Association roles are matched as stored;
// the legacy PrimaryRole is matched after alias resolution.

// IsAdmin reports platform or society administrators
func IsAdmin(u *User) bool {
	return hasActiveRole(u, RoleOwnerApp, RolePlatformAdmin, RoleSocietyAdmin) ||
		legacyTierIn(u, TierAdmin, TierTenantAdmin)
}

// IsSocietyAdmin reports tenant administrators
func IsSocietyAdmin(u *User) bool {
	return hasActiveRole(u, RoleSocietyAdmin) || legacyTierIn(u, TierTenantAdmin)
}

// IsOwnerOrRenter reports residents of any society
func IsOwnerOrRenter(u *User) bool {
	return hasActiveRole(u, RoleResident) || legacyTierIn(u, TierResident)
}

// IsGuard reports gate staff
func IsGuard(u *User) bool {
	return hasActiveRole(u, RoleGuard) || legacyTierIn(u, TierGuard)
}

// IsStaff reports the stored staff flag
func IsStaff(u *User) bool {
	return u != nil && u.IsStaff
}

// CanImpersonate reports the stored impersonation flag
func CanImpersonate(u *User) bool {
	return u != nil && u.CanImpersonate
}

// CapabilitiesOf evaluates every predicate for the user
func CapabilitiesOf(u *User) Capabilities {
	return Capabilities{
		IsAdmin:         IsAdmin(u),
		IsSocietyAdmin:  IsSocietyAdmin(u),
		IsOwnerOrRenter: IsOwnerOrRenter(u),
		IsGuard:         IsGuard(u),
		IsStaff:         IsStaff(u),
		CanImpersonate:  CanImpersonate(u),
	}
}

// PredicateByName looks up a predicate by its JSON capability name
func PredicateByName(name string) (Predicate, bool) {
	p, ok := predicatesByName[name]
	return p, ok
}

var predicatesByName = map[string]Predicate{
	"is_admin":           IsAdmin,
	"is_society_admin":   IsSocietyAdmin,
	"is_owner_or_renter": IsOwnerOrRenter,
	"is_guard":           IsGuard,
	"is_staff":           IsStaff,
	"can_impersonate":    CanImpersonate,
}

func hasActiveRole(u *User, roles ...Role) bool {
	if u == nil {
		return false
	}
	for _, a := range u.RoleAssociations {
		if !a.Active {
			continue
		}
		for _, r := range roles {
			if a.Role == r {
				return true
			}
		}
	}
	return false
}

func legacyTierIn(u *User, tiers ...Tier) bool {
	if u == nil || u.PrimaryRole == "" {
		return false
	}
	tier := u.PrimaryRole.Tier()
	for _, t := range tiers {
		if tier == t {
			return true
		}
	}
	return false
}
