package rbac

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Checker evaluates authorization questions against an already loaded user
type Checker interface {
	// Resolve computes the effective permissions of a user, grouped by tenant
	Resolve(user *User) EffectivePermissions

	// HasPermission reports whether the user holds permission on feature in
	// tenantID. An empty tenantID matches any tenant.
	HasPermission(user *User, feature Feature, perm Permission, tenantID string) bool

	// Check answers a query with the reasoning behind the answer
	Check(user *User, q Query) Decision

	// Capabilities evaluates the coarse role predicates for the user
	Capabilities(user *User) Capabilities
}

// PermissionChecker implements the Checker interface.
// It holds no mutable state and is safe for concurrent use.
type PermissionChecker struct {
	catalog *Catalog
	now     func() time.Time
}

// CheckerOption configures a PermissionChecker
type CheckerOption func(*PermissionChecker)

// WithClock sets the clock used to timestamp legacy associations and decisions
func WithClock(now func() time.Time) CheckerOption {
	return func(pc *PermissionChecker) {
		if now != nil {
			pc.now = now
		}
	}
}

// NewPermissionChecker creates a new permission checker over catalog.
// A nil catalog grants nothing.
func NewPermissionChecker(catalog *Catalog, opts ...CheckerOption) *PermissionChecker {
	if catalog == nil {
		catalog = NewCatalog(nil, nil)
	}
	pc := &PermissionChecker{
		catalog: catalog,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(pc)
	}
	return pc
}

// Catalog returns the catalog the checker resolves against
func (pc *PermissionChecker) Catalog() *Catalog {
	return pc.catalog
}

// Resolve computes the effective permissions of a user.
//
// Active associations are applied in list order. For every catalog feature an
// association writes its override when it has one (an empty override included),
// otherwise its role default, otherwise the empty set. A later association
// overwrites an earlier one for the same tenant and feature.
func (pc *PermissionChecker) Resolve(user *User) EffectivePermissions {
	result := make(EffectivePermissions)
	if user == nil {
		return result
	}

	features := pc.catalog.Features()
	for _, assoc := range effectiveAssociations(user, pc.now()) {
		tenant := assoc.TenantID
		if tenant == "" {
			tenant = UnknownTenant
		}
		tenantPerms, ok := result[tenant]
		if !ok {
			tenantPerms = make(FeaturePermissions, len(features))
			result[tenant] = tenantPerms
		}

		for _, feature := range features {
			if override, ok := assoc.Override(feature); ok {
				tenantPerms[feature] = override
				continue
			}
			if defaults, ok := pc.catalog.Default(assoc.Role, feature); ok {
				tenantPerms[feature] = defaults
				continue
			}
			tenantPerms[feature] = PermissionSet{}
		}

		// Overrides for features outside the catalog still apply
		for _, feature := range extraOverrideFeatures(assoc, pc.catalog) {
			override, _ := assoc.Override(feature)
			tenantPerms[feature] = override
		}
	}

	return result
}

func extraOverrideFeatures(assoc RoleAssociation, catalog *Catalog) []Feature {
	var extra []Feature
	for f := range assoc.CustomPermissions {
		if !catalog.HasFeature(f) {
			extra = append(extra, f)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return extra
}

// HasPermission reports whether the user holds permission on feature.
// Anything missing along the way denies.
func (pc *PermissionChecker) HasPermission(user *User, feature Feature, perm Permission, tenantID string) bool {
	return len(pc.matchingTenants(pc.Resolve(user), feature, perm, tenantID)) > 0
}

func (pc *PermissionChecker) matchingTenants(effective EffectivePermissions, feature Feature, perm Permission, tenantID string) []string {
	if tenantID != "" {
		if effective.Allows(tenantID, feature, perm) {
			return []string{tenantID}
		}
		return nil
	}

	var matched []string
	for _, tenant := range effective.Tenants() {
		if effective.Allows(tenant, feature, perm) {
			matched = append(matched, tenant)
		}
	}
	return matched
}

// Check answers q for user. The query's UserID is informational; the
// decision is always made against the supplied user.
func (pc *PermissionChecker) Check(user *User, q Query) Decision {
	decision := Decision{CheckedAt: pc.now()}

	if user == nil {
		decision.Reason = "user not found"
		return decision
	}

	effective := pc.Resolve(user)
	if len(effective) == 0 {
		decision.Reason = "user has no active role associations"
		return decision
	}

	matched := pc.matchingTenants(effective, q.Feature, q.Permission, q.TenantID)
	if len(matched) > 0 {
		decision.Allowed = true
		decision.MatchedTenants = matched
		decision.Reason = fmt.Sprintf("%s granted on %s in tenants: %s", q.Permission, q.Feature, strings.Join(matched, ", "))
		return decision
	}

	switch {
	case q.TenantID != "" && effective[q.TenantID] == nil:
		decision.Reason = fmt.Sprintf("no active role association in tenant %s", q.TenantID)
	case q.TenantID != "":
		decision.Reason = fmt.Sprintf("%s not granted on %s in tenant %s", q.Permission, q.Feature, q.TenantID)
	default:
		decision.Reason = fmt.Sprintf("%s not granted on %s in any tenant", q.Permission, q.Feature)
	}
	return decision
}

// Capabilities evaluates every coarse predicate for the user
func (pc *PermissionChecker) Capabilities(user *User) Capabilities {
	return CapabilitiesOf(user)
}
