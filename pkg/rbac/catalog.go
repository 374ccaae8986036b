package rbac

import (
	"fmt"
	"io"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

// Catalog is the static role to feature to default-permission table.
// It is immutable once built and safe to share between goroutines.
type Catalog struct {
	features []Feature
	index    map[Feature]struct{}
	defaults map[Role]FeaturePermissions
}

// NewCatalog builds a catalog from a feature list and per-role defaults.
// Inputs are copied; later changes by the caller are not observed.
func NewCatalog(features []Feature, defaults map[Role]FeaturePermissions) *Catalog {
	c := &Catalog{
		features: make([]Feature, 0, len(features)),
		index:    make(map[Feature]struct{}, len(features)),
		defaults: make(map[Role]FeaturePermissions, len(defaults)),
	}
	for _, f := range features {
		if _, dup := c.index[f]; dup || f == "" {
			continue
		}
		c.index[f] = struct{}{}
		c.features = append(c.features, f)
	}
	for role, table := range defaults {
		copied := make(FeaturePermissions, len(table))
		for f, perms := range table {
			copied[f] = NewPermissionSet(perms...)
		}
		c.defaults[role] = copied
	}
	return c
}

// Features returns the closed feature enumeration in declaration order
func (c *Catalog) Features() []Feature {
	if c == nil {
		return nil
	}
	out := make([]Feature, len(c.features))
	copy(out, c.features)
	return out
}

// HasFeature reports whether the feature is part of the enumeration
func (c *Catalog) HasFeature(f Feature) bool {
	if c == nil {
		return false
	}
	_, ok := c.index[f]
	return ok
}

// Default returns the default permissions of role for feature. The boolean is
// false when the catalog has no entry; callers treat that as the empty set.
func (c *Catalog) Default(role Role, feature Feature) (PermissionSet, bool) {
	if c == nil {
		return nil, false
	}
	table, ok := c.defaults[role]
	if !ok {
		return nil, false
	}
	perms, ok := table[feature]
	if !ok {
		return nil, false
	}
	return perms.Clone(), true
}

// SameDefaults reports whether two roles have identical default tables.
// A role missing from the catalog only matches another missing role.
func (c *Catalog) SameDefaults(a, b Role) bool {
	if c == nil {
		return true
	}
	ta, okA := c.defaults[a]
	tb, okB := c.defaults[b]
	if okA != okB || len(ta) != len(tb) {
		return false
	}
	for f, pa := range ta {
		pb, ok := tb[f]
		if !ok || !slices.Equal(pa, pb) {
			return false
		}
	}
	return true
}

// Roles returns the roles that have at least one entry, sorted
func (c *Catalog) Roles() []Role {
	if c == nil {
		return nil
	}
	roles := make([]Role, 0, len(c.defaults))
	for r := range c.defaults {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// CatalogView is the serializable form of a catalog
type CatalogView struct {
	Features []Feature                   `json:"features" yaml:"features"`
	Roles    map[Role]FeaturePermissions `json:"roles" yaml:"roles"`
}

// View returns a detached copy of the catalog contents
func (c *Catalog) View() CatalogView {
	view := CatalogView{
		Features: c.Features(),
		Roles:    make(map[Role]FeaturePermissions),
	}
	if c == nil {
		return view
	}
	for role, table := range c.defaults {
		copied := make(FeaturePermissions, len(table))
		for f, perms := range table {
			copied[f] = perms.Clone()
		}
		view.Roles[role] = copied
	}
	return view
}

type catalogFile struct {
	Features []string                       `yaml:"features"`
	Roles    map[string]map[string][]string `yaml:"roles"`
}

// LoadCatalog parses a YAML catalog:
//
//	features: [visitor-management, billing-management]
//	roles:
//	  resident:
//	    visitor-management: [view, create]
//
// Roles may omit features. Referencing a feature that is not declared is an error.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var file catalogFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if len(file.Features) == 0 {
		return nil, fmt.Errorf("catalog declares no features")
	}

	features := make([]Feature, 0, len(file.Features))
	declared := make(map[Feature]struct{}, len(file.Features))
	for _, name := range file.Features {
		f := Feature(name)
		features = append(features, f)
		declared[f] = struct{}{}
	}

	defaults := make(map[Role]FeaturePermissions, len(file.Roles))
	for roleName, table := range file.Roles {
		perFeature := make(FeaturePermissions, len(table))
		for featureName, permNames := range table {
			f := Feature(featureName)
			if _, ok := declared[f]; !ok {
				return nil, fmt.Errorf("role %q references undeclared feature %q", roleName, featureName)
			}
			perms := make([]Permission, 0, len(permNames))
			for _, p := range permNames {
				perms = append(perms, Permission(p))
			}
			perFeature[f] = NewPermissionSet(perms...)
		}
		defaults[Role(roleName)] = perFeature
	}

	return NewCatalog(features, defaults), nil
}

// DefaultFeatures is the built-in feature enumeration
var DefaultFeatures = []Feature{
	FeatureVisitorManagement,
	FeatureGatePasses,
	FeatureBillingManagement,
	FeatureComplaintManagement,
	FeatureParkingManagement,
	FeatureNoticeManagement,
	FeatureUserManagement,
	FeatureSocietyManagement,
	FeatureFacilityManagement,
	FeatureVendorManagement,
	FeatureStaffManagement,
	FeatureAuditLogs,
	FeatureFeatureFlags,
}

func perms(p ...Permission) PermissionSet { return NewPermissionSet(p...) }

var (
	fullAccess = perms(PermissionView, PermissionCreate, PermissionEdit, PermissionDelete,
		PermissionApprove, PermissionExport, PermissionManage)
	tenantAdminAccess = perms(PermissionView, PermissionCreate, PermissionEdit, PermissionDelete,
		PermissionApprove, PermissionExport)
	viewOnly = perms(PermissionView)
)

// DefaultCatalog returns the built-in catalog. Every call returns a fresh value.
func DefaultCatalog() *Catalog {
	platform := make(FeaturePermissions, len(DefaultFeatures))
	for _, f := range DefaultFeatures {
		platform[f] = fullAccess
	}

	societyAdmin := FeaturePermissions{
		FeatureVisitorManagement:   tenantAdminAccess,
		FeatureGatePasses:          tenantAdminAccess,
		FeatureBillingManagement:   tenantAdminAccess,
		FeatureComplaintManagement: tenantAdminAccess,
		FeatureParkingManagement:   tenantAdminAccess,
		FeatureNoticeManagement:    tenantAdminAccess,
		FeatureUserManagement:      fullAccess,
		FeatureSocietyManagement:   perms(PermissionView, PermissionEdit),
		FeatureFacilityManagement:  tenantAdminAccess,
		FeatureVendorManagement:    tenantAdminAccess,
		FeatureStaffManagement:     tenantAdminAccess,
		FeatureAuditLogs:           perms(PermissionView, PermissionExport),
		FeatureFeatureFlags:        viewOnly,
	}

	ops := FeaturePermissions{
		FeatureVisitorManagement:   perms(PermissionView, PermissionEdit),
		FeatureGatePasses:          perms(PermissionView, PermissionEdit, PermissionApprove),
		FeatureBillingManagement:   viewOnly,
		FeatureComplaintManagement: perms(PermissionView, PermissionEdit, PermissionApprove),
		FeatureParkingManagement:   perms(PermissionView, PermissionEdit),
		FeatureNoticeManagement:    perms(PermissionView, PermissionCreate),
		FeatureUserManagement:      viewOnly,
		FeatureSocietyManagement:   viewOnly,
		FeatureFacilityManagement:  perms(PermissionView, PermissionEdit),
		FeatureVendorManagement:    perms(PermissionView, PermissionCreate, PermissionEdit),
		FeatureStaffManagement:     perms(PermissionView, PermissionEdit),
		FeatureAuditLogs:           viewOnly,
	}

	support := FeaturePermissions{
		FeatureVisitorManagement:   viewOnly,
		FeatureGatePasses:          viewOnly,
		FeatureBillingManagement:   viewOnly,
		FeatureComplaintManagement: perms(PermissionView, PermissionEdit),
		FeatureNoticeManagement:    viewOnly,
		FeatureUserManagement:      viewOnly,
		FeatureSocietyManagement:   viewOnly,
		FeatureAuditLogs:           viewOnly,
	}

	resident := FeaturePermissions{
		FeatureVisitorManagement:   perms(PermissionView, PermissionCreate, PermissionEdit, PermissionApprove),
		FeatureGatePasses:          perms(PermissionView, PermissionCreate),
		FeatureBillingManagement:   viewOnly,
		FeatureComplaintManagement: perms(PermissionView, PermissionCreate),
		FeatureParkingManagement:   viewOnly,
		FeatureNoticeManagement:    viewOnly,
		FeatureFacilityManagement:  perms(PermissionView, PermissionCreate),
		FeatureVendorManagement:    viewOnly,
	}

	guard := FeaturePermissions{
		FeatureVisitorManagement: perms(PermissionView, PermissionCreate, PermissionEdit),
		FeatureGatePasses:        perms(PermissionView, PermissionApprove),
		FeatureParkingManagement: perms(PermissionView, PermissionCreate),
		FeatureNoticeManagement:  viewOnly,
		FeatureStaffManagement:   viewOnly,
	}

	return NewCatalog(DefaultFeatures, map[Role]FeaturePermissions{
		RoleOwnerApp:      platform,
		RolePlatformAdmin: platform,
		RoleSocietyAdmin:  societyAdmin,
		RoleOps:           ops,
		RoleSupport:       support,
		RoleResident:      resident,
		RoleGuard:         guard,
		RoleOwner:         resident,
		RoleRenter:        resident,
		RoleSuperadmin:    societyAdmin,
	})
}
