// Package rbac resolves what a ResiGate user may do, per society, per feature.
//
// # Model
//
// A User holds any number of RoleAssociations. Each association grants one
// Role inside one tenant (society) and may customize individual features
// with CustomPermissions. Deactivated associations are kept for history and
// ignored by every computation.
//
// Users created before multi-role support carry a single PrimaryRole and
// TenantID instead. When a user has no stored associations the resolver
// synthesizes one from those fields; see LegacyAssociation.
//
// # Catalog
//
// The Catalog is the static table of features and per-role default
// permissions. DefaultCatalog returns the built-in table and LoadCatalog
// reads the same shape from YAML. A catalog is never modified after it is
// built, so one value can back every checker in the process.
//
// # Resolution
//
//	checker := rbac.NewPermissionChecker(rbac.DefaultCatalog())
//	effective := checker.Resolve(user)
//	effective["society-12"]["visitor-management"] // [approve create edit view]
//
// For every active association and every catalog feature, an override
// (even an empty one) wins over the role default, and a missing default
// means no access. Associations are applied in list order; the last one
// written for a tenant and feature wins.
//
// HasPermission answers a single question and denies whenever anything is
// missing. An empty tenant asks whether any tenant grants the permission:
//
//	if checker.HasPermission(user, rbac.FeatureGatePasses, rbac.PermissionApprove, tenantID) {
//		// ...
//	}
//
// # Capabilities
//
// IsAdmin, IsSocietyAdmin, IsOwnerOrRenter and IsGuard are coarse,
// tenant-independent predicates over active associations and the legacy
// role (after alias resolution: owner and renter are residents, superadmin
// is a society admin). IsStaff and CanImpersonate read stored flags.
//
// # HTTP
//
// PermissionMiddleware loads the caller through a Directory and guards
// routes:
//
//	pm := rbac.NewPermissionMiddleware(checker, directory, rbac.WithMetrics(metrics))
//	router.Handle("/societies/{tenant_id}/visitors",
//		pm.RequirePermission(rbac.FeatureVisitorManagement, rbac.PermissionView)(handler))
//	router.Handle("/admin/users", pm.RequireCapability("is_admin", rbac.IsAdmin)(handler))
//
// Because the predicates are tenant-blind, an is_admin gate alone admits a
// society admin to every society. Handlers narrows each administrative call
// with CanGrantRole and CanViewUser: platform administrators act anywhere,
// society administrators only where they hold user-management.
//
// Handlers exposes the /rbac API; Manager wires checker, middleware and
// handlers from a Config.
package rbac
