package rbac

import "time"

const (
	// LegacyAssociationID identifies the association synthesized from legacy fields
	LegacyAssociationID = "legacy"
	// MigrationGrantor is recorded as the grantor of synthesized and promoted associations
	MigrationGrantor = "migration"
)

// legacyAssociations synthesizes the single association implied by the
// pre multi-role PrimaryRole and TenantID fields. Either field alone is
// enough; with neither the result is empty.
func legacyAssociations(u *User, now time.Time) []RoleAssociation {
	if u == nil || (u.PrimaryRole == "" && u.TenantID == "") {
		return nil
	}
	return []RoleAssociation{{
		ID:        LegacyAssociationID,
		UserID:    u.ID,
		Role:      u.PrimaryRole,
		TenantID:  u.TenantID,
		Active:    true,
		GrantedAt: now,
		GrantedBy: MigrationGrantor,
	}}
}

// LegacyAssociation returns the association the resolver would synthesize for
// a user without stored associations, or false when there is nothing to synthesize.
func LegacyAssociation(u *User, now time.Time) (RoleAssociation, bool) {
	if u == nil || len(u.RoleAssociations) > 0 {
		return RoleAssociation{}, false
	}
	assocs := legacyAssociations(u, now)
	if len(assocs) == 0 {
		return RoleAssociation{}, false
	}
	return assocs[0], true
}

// effectiveAssociations returns the active associations the engine evaluates:
// the stored list when non-empty, otherwise the legacy synthesis.
func effectiveAssociations(u *User, now time.Time) []RoleAssociation {
	if u == nil {
		return nil
	}
	source := u.RoleAssociations
	if len(source) == 0 {
		source = legacyAssociations(u, now)
	}
	active := make([]RoleAssociation, 0, len(source))
	for _, a := range source {
		if a.Active {
			active = append(active, a)
		}
	}
	return active
}
