package users

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkjha00007/resigate/pkg/audit"
	"github.com/kkjha00007/resigate/pkg/rbac"
)

var serviceNow = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type serviceFixture struct {
	store *MemoryStore
	audit *audit.MemoryLogger
	svc   *Service
}

func newServiceFixture(t *testing.T, config ServiceConfig, users ...*rbac.User) *serviceFixture {
	t.Helper()
	store := NewMemoryStore()
	for _, u := range users {
		require.NoError(t, store.Create(context.Background(), u.Clone()))
	}

	seq := 0
	mem := audit.NewMemoryLogger()
	svc := NewService(store, rbac.DefaultCatalog(), config,
		WithAuditLogger(mem),
		WithClock(func() time.Time { return serviceNow }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		}),
	)
	return &serviceFixture{store: store, audit: mem, svc: svc}
}

func boolPtr(b bool) *bool { return &b }

func TestService_CreateUser(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, DefaultServiceConfig())

	user, err := f.svc.CreateUser(ctx, rbac.CreateUserRequest{ID: "u1", Email: "u1@example.com", IsStaff: true}, "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.Version)
	assert.True(t, user.IsStaff)
	assert.Len(t, f.audit.EventsOfType(audit.EventTypeAdminUserCreate), 1)

	_, err = f.svc.CreateUser(ctx, rbac.CreateUserRequest{ID: "u1"}, "admin")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields["id"], "already exists")

	_, err = f.svc.CreateUser(ctx, rbac.CreateUserRequest{ID: "u2", Email: "nope", PrimaryRole: "janitor"}, "admin")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "email must be a valid email", verr.Fields["email"])
	assert.Contains(t, verr.Fields["primary_role"], "not a recognized role")
}

func TestService_AssignRole(t *testing.T) {
	ctx := context.Background()

	t.Run("appends an active association", func(t *testing.T) {
		f := newServiceFixture(t, DefaultServiceConfig(), &rbac.User{ID: "u1"})
		unit := "A-101"

		assoc, err := f.svc.AssignRole(ctx, "u1", rbac.AssignRoleRequest{
			Role:     rbac.RoleResident,
			TenantID: "S1",
			UnitID:   &unit,
			CustomPermissions: map[rbac.Feature][]rbac.Permission{
				rbac.FeatureBillingManagement: {"view", "view", "export"},
			},
		}, "admin")
		require.NoError(t, err)

		assert.Equal(t, "id-1", assoc.ID)
		assert.True(t, assoc.Active)
		assert.Equal(t, serviceNow, assoc.GrantedAt)
		assert.Equal(t, "admin", assoc.GrantedBy)
		assert.Equal(t, []rbac.Permission{"export", "view"}, assoc.CustomPermissions[rbac.FeatureBillingManagement])

		stored, err := f.store.Get(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, stored.RoleAssociations, 1)
		assert.Equal(t, int64(2), stored.Version)

		events := f.audit.EventsOfType(audit.EventTypeRoleGrant)
		require.Len(t, events, 1)
		assert.Equal(t, "resident", events[0].Changes.After["role"])
	})

	t.Run("promotes legacy fields first", func(t *testing.T) {
		f := newServiceFixture(t, DefaultServiceConfig(), &rbac.User{ID: "g", PrimaryRole: rbac.RoleGuard, TenantID: "S2"})

		_, err := f.svc.AssignRole(ctx, "g", rbac.AssignRoleRequest{Role: rbac.RoleResident, TenantID: "S1"}, "admin")
		require.NoError(t, err)

		stored, err := f.store.Get(ctx, "g")
		require.NoError(t, err)
		require.Len(t, stored.RoleAssociations, 2)
		assert.Equal(t, rbac.RoleGuard, stored.RoleAssociations[0].Role)
		assert.Equal(t, rbac.MigrationGrantor, stored.RoleAssociations[0].GrantedBy)

		assert.Empty(t, stored.PrimaryRole, "legacy fields cleared")
		assert.Empty(t, stored.TenantID)

		effective := rbac.NewPermissionChecker(rbac.DefaultCatalog()).Resolve(stored)
		assert.True(t, effective.Allows("S2", rbac.FeatureGatePasses, rbac.PermissionApprove), "legacy access survives")
		assert.Len(t, f.audit.EventsOfType(audit.EventTypeAdminPromotion), 1)

		_, err = f.svc.Deactivate(ctx, "g", stored.RoleAssociations[0].ID, "admin")
		require.NoError(t, err)
		stored, err = f.store.Get(ctx, "g")
		require.NoError(t, err)
		assert.False(t, rbac.IsGuard(stored), "deactivated promoted role no longer counts")
	})

	t.Run("validation", func(t *testing.T) {
		f := newServiceFixture(t, DefaultServiceConfig(), &rbac.User{ID: "u1"})
		empty := ""

		tests := []struct {
			name  string
			req   rbac.AssignRoleRequest
			field string
		}{
			{"missing role", rbac.AssignRoleRequest{TenantID: "S1"}, "role"},
			{"unknown role", rbac.AssignRoleRequest{Role: "janitor", TenantID: "S1"}, "role"},
			{"missing tenant", rbac.AssignRoleRequest{Role: rbac.RoleGuard}, "tenant_id"},
			{"empty unit", rbac.AssignRoleRequest{Role: rbac.RoleGuard, TenantID: "S1", UnitID: &empty}, "unit_id"},
			{"unknown feature", rbac.AssignRoleRequest{Role: rbac.RoleGuard, TenantID: "S1",
				CustomPermissions: map[rbac.Feature][]rbac.Permission{"pool-booking": {"view"}}}, "custom_permissions.pool-booking"},
			{"empty permission", rbac.AssignRoleRequest{Role: rbac.RoleGuard, TenantID: "S1",
				CustomPermissions: map[rbac.Feature][]rbac.Permission{rbac.FeatureGatePasses: {""}}}, "custom_permissions.gate-pass-management"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.svc.AssignRole(ctx, "u1", tt.req, "admin")
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Contains(t, verr.Fields, tt.field)
			})
		}

		stored, err := f.store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, stored.RoleAssociations)
	})

	t.Run("lenient overrides accept unknown features", func(t *testing.T) {
		f := newServiceFixture(t, ServiceConfig{StrictOverrides: false}, &rbac.User{ID: "u1"})

		assoc, err := f.svc.AssignRole(ctx, "u1", rbac.AssignRoleRequest{
			Role: rbac.RoleGuard, TenantID: "S1",
			CustomPermissions: map[rbac.Feature][]rbac.Permission{"pool-booking": {"view"}},
		}, "admin")
		require.NoError(t, err)
		assert.Contains(t, assoc.CustomPermissions, rbac.Feature("pool-booking"))
	})

	t.Run("missing user", func(t *testing.T) {
		f := newServiceFixture(t, DefaultServiceConfig())
		_, err := f.svc.AssignRole(ctx, "ghost", rbac.AssignRoleRequest{Role: rbac.RoleGuard, TenantID: "S1"}, "admin")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestService_UpdatePermissions(t *testing.T) {
	ctx := context.Background()
	user := &rbac.User{ID: "u1", RoleAssociations: []rbac.RoleAssociation{
		{ID: "a1", Role: rbac.RoleResident, TenantID: "S1", Active: true},
		{ID: "a2", Role: rbac.RoleGuard, TenantID: "S2", Active: false},
	}}

	t.Run("replaces overrides", func(t *testing.T) {
		f := newServiceFixture(t, DefaultServiceConfig(), user)

		assoc, err := f.svc.UpdatePermissions(ctx, "u1", "a1", map[rbac.Feature][]rbac.Permission{
			rbac.FeatureVisitorManagement: {},
		}, "admin")
		require.NoError(t, err)
		perms, ok := assoc.CustomPermissions[rbac.FeatureVisitorManagement]
		assert.True(t, ok)
		assert.Empty(t, perms)

		stored, err := f.store.Get(ctx, "u1")
		require.NoError(t, err)
		effective := rbac.NewPermissionChecker(rbac.DefaultCatalog()).Resolve(stored)
		assert.Empty(t, effective["S1"][rbac.FeatureVisitorManagement], "empty override revokes the default")
		assert.Len(t, f.audit.EventsOfType(audit.EventTypeRoleOverride), 1)
	})

	t.Run("errors", func(t *testing.T) {
		f := newServiceFixture(t, DefaultServiceConfig(), user)

		_, err := f.svc.UpdatePermissions(ctx, "u1", "a2", nil, "admin")
		assert.ErrorIs(t, err, ErrAssociationInactive)

		_, err = f.svc.UpdatePermissions(ctx, "u1", "zz", nil, "admin")
		assert.ErrorIs(t, err, ErrAssociationNotFound)

		_, err = f.svc.UpdatePermissions(ctx, "ghost", "a1", nil, "admin")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.Empty(t, f.audit.Events())
	})
}

func TestService_Deactivate(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, DefaultServiceConfig(), &rbac.User{ID: "u1", RoleAssociations: []rbac.RoleAssociation{
		{ID: "a1", Role: rbac.RoleResident, TenantID: "S1", Active: true},
	}})

	assoc, err := f.svc.Deactivate(ctx, "u1", "a1", "admin")
	require.NoError(t, err)
	assert.False(t, assoc.Active)

	stored, err := f.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)

	// A second call succeeds without writing
	assoc, err = f.svc.Deactivate(ctx, "u1", "a1", "admin")
	require.NoError(t, err)
	assert.False(t, assoc.Active)

	stored, err = f.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	assert.Len(t, f.audit.EventsOfType(audit.EventTypeRoleDeactivate), 1)

	_, err = f.svc.Deactivate(ctx, "u1", "nope", "admin")
	assert.ErrorIs(t, err, ErrAssociationNotFound)
}

func TestService_SetFlags(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, DefaultServiceConfig(), &rbac.User{ID: "u1", CanImpersonate: true})

	user, err := f.svc.SetFlags(ctx, "u1", rbac.FlagsUpdate{IsStaff: boolPtr(true)}, "admin")
	require.NoError(t, err)
	assert.True(t, user.IsStaff)
	assert.True(t, user.CanImpersonate, "nil flags are left alone")

	events := f.audit.EventsOfType(audit.EventTypeAdminFlagsUpdate)
	require.Len(t, events, 1)
	assert.Equal(t, false, events[0].Changes.Before["is_staff"])
	assert.Equal(t, true, events[0].Changes.After["is_staff"])
	assert.NotContains(t, events[0].Changes.After, "can_impersonate")

	_, err = f.svc.SetFlags(ctx, "u1", rbac.FlagsUpdate{}, "admin")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestService_PromoteLegacy(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the implied association", func(t *testing.T) {
		legacy := &rbac.User{ID: "o", PrimaryRole: rbac.RoleSuperadmin, TenantID: "S1"}
		f := newServiceFixture(t, DefaultServiceConfig(), legacy)
		checker := rbac.NewPermissionChecker(rbac.DefaultCatalog(), rbac.WithClock(func() time.Time { return serviceNow }))

		before, err := f.store.Get(ctx, "o")
		require.NoError(t, err)

		user, promoted, err := f.svc.PromoteLegacy(ctx, "o", rbac.MigrationGrantor)
		require.NoError(t, err)
		require.True(t, promoted)
		require.Len(t, user.RoleAssociations, 1)
		assert.Equal(t, "id-1", user.RoleAssociations[0].ID)
		assert.Equal(t, rbac.RoleSocietyAdmin, user.RoleAssociations[0].Role, "alias stored under its current name")
		assert.Equal(t, "S1", user.RoleAssociations[0].TenantID)
		assert.Empty(t, user.PrimaryRole)
		assert.Empty(t, user.TenantID)

		assert.Equal(t, checker.Resolve(before), checker.Resolve(user), "promotion preserves effective permissions")
		assert.Equal(t, rbac.CapabilitiesOf(before), rbac.CapabilitiesOf(user), "promotion preserves capabilities")
	})

	t.Run("deactivating the promoted role revokes it", func(t *testing.T) {
		legacy := &rbac.User{ID: "sa", PrimaryRole: rbac.RoleSocietyAdmin, TenantID: "S1"}
		f := newServiceFixture(t, DefaultServiceConfig(), legacy)
		checker := rbac.NewPermissionChecker(rbac.DefaultCatalog(), rbac.WithClock(func() time.Time { return serviceNow }))

		user, promoted, err := f.svc.PromoteLegacy(ctx, "sa", "admin")
		require.NoError(t, err)
		require.True(t, promoted)
		assert.True(t, rbac.IsAdmin(user))

		_, err = f.svc.Deactivate(ctx, "sa", user.RoleAssociations[0].ID, "admin")
		require.NoError(t, err)

		stored, err := f.store.Get(ctx, "sa")
		require.NoError(t, err)
		assert.False(t, rbac.IsAdmin(stored))
		assert.False(t, rbac.IsSocietyAdmin(stored))
		assert.Empty(t, checker.Resolve(stored))
		assert.False(t, checker.HasPermission(stored, rbac.FeatureUserManagement, rbac.PermissionManage, "S1"))
	})

	t.Run("alias kept when the catalog tells it apart", func(t *testing.T) {
		catalog := rbac.NewCatalog(rbac.DefaultFeatures, map[rbac.Role]rbac.FeaturePermissions{
			rbac.RoleOwner:    {rbac.FeatureGatePasses: {rbac.PermissionView}},
			rbac.RoleResident: {rbac.FeatureGatePasses: {rbac.PermissionView, rbac.PermissionCreate}},
		})
		store := NewMemoryStore()
		require.NoError(t, store.Create(ctx, &rbac.User{ID: "o", PrimaryRole: rbac.RoleOwner, TenantID: "S1"}))
		svc := NewService(store, catalog, DefaultServiceConfig())

		user, promoted, err := svc.PromoteLegacy(ctx, "o", "admin")
		require.NoError(t, err)
		require.True(t, promoted)
		assert.Equal(t, rbac.RoleOwner, user.RoleAssociations[0].Role)
	})

	t.Run("no-op cases", func(t *testing.T) {
		f := newServiceFixture(t, DefaultServiceConfig(),
			&rbac.User{ID: "modern", RoleAssociations: []rbac.RoleAssociation{{ID: "a", Role: rbac.RoleGuard, TenantID: "S1", Active: true}}},
			&rbac.User{ID: "blank"},
		)

		for _, id := range []string{"modern", "blank"} {
			_, promoted, err := f.svc.PromoteLegacy(ctx, id, "admin")
			require.NoError(t, err)
			assert.False(t, promoted, id)

			stored, err := f.store.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, int64(1), stored.Version, "no write for %s", id)
		}
		assert.Empty(t, f.audit.Events())
	})
}

// conflictingStore fails the first n Replace calls with ErrConflict
type conflictingStore struct {
	Store
	mu        sync.Mutex
	conflicts int
	replaces  int
}

func (s *conflictingStore) Replace(ctx context.Context, user *rbac.User) error {
	s.mu.Lock()
	s.replaces++
	fail := s.conflicts > 0
	if fail {
		s.conflicts--
	}
	s.mu.Unlock()
	if fail {
		return ErrConflict
	}
	return s.Store.Replace(ctx, user)
}

func TestService_RetriesConflicts(t *testing.T) {
	ctx := context.Background()

	newSvc := func(t *testing.T, conflicts, retries int) (*Service, *conflictingStore) {
		mem := NewMemoryStore()
		require.NoError(t, mem.Create(ctx, &rbac.User{ID: "u1"}))
		store := &conflictingStore{Store: mem, conflicts: conflicts}
		return NewService(store, nil, ServiceConfig{WriteRetries: retries}), store
	}

	t.Run("succeeds within budget", func(t *testing.T) {
		svc, store := newSvc(t, 2, 3)
		_, err := svc.SetFlags(ctx, "u1", rbac.FlagsUpdate{IsStaff: boolPtr(true)}, "admin")
		require.NoError(t, err)
		assert.Equal(t, 3, store.replaces)
	})

	t.Run("gives up after budget", func(t *testing.T) {
		svc, store := newSvc(t, 5, 1)
		_, err := svc.SetFlags(ctx, "u1", rbac.FlagsUpdate{IsStaff: boolPtr(true)}, "admin")
		assert.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, 2, store.replaces)
	})
}

func TestService_ConcurrentGrantsAreNotLost(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, &rbac.User{ID: "u1"}))
	svc := NewService(store, nil, ServiceConfig{StrictOverrides: true, WriteRetries: 50})

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.AssignRole(ctx, "u1", rbac.AssignRoleRequest{
				Role:     rbac.RoleResident,
				TenantID: fmt.Sprintf("S%d", i),
			}, "admin")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	stored, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, stored.RoleAssociations, writers)
}
