package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kkjha00007/resigate/pkg/audit"
	"github.com/kkjha00007/resigate/pkg/observability"
	"github.com/kkjha00007/resigate/pkg/rbac"
)

// ServiceConfig tunes the user service
type ServiceConfig struct {
	// StrictOverrides rejects custom permissions for features outside the catalog
	StrictOverrides bool
	// WriteRetries is how many times a write is retried after a version conflict
	WriteRetries int
}

// DefaultServiceConfig returns the production defaults
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		StrictOverrides: true,
		WriteRetries:    3,
	}
}

// Service owns every change to user authorization records. It implements
// rbac.Directory and rbac.RoleManager.
type Service struct {
	store    Store
	catalog  *rbac.Catalog
	config   ServiceConfig
	validate *validator.Validate
	audit    audit.Logger
	now      func() time.Time
	newID    func() string
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithAuditLogger records every change. Nil is ignored.
func WithAuditLogger(logger audit.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.audit = logger
		}
	}
}

// WithClock overrides the time source for grant timestamps
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator overrides association ID generation
func WithIDGenerator(newID func() string) ServiceOption {
	return func(s *Service) {
		s.newID = newID
	}
}

// NewService creates a user service
func NewService(store Store, catalog *rbac.Catalog, config ServiceConfig, opts ...ServiceOption) *Service {
	if catalog == nil {
		catalog = rbac.DefaultCatalog()
	}
	if config.WriteRetries < 0 {
		config.WriteRetries = 0
	}
	s := &Service{
		store:    store,
		catalog:  catalog,
		config:   config,
		validate: newValidator(),
		audit:    audit.NoOpLogger(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetUser implements rbac.Directory
func (s *Service) GetUser(ctx context.Context, userID string) (*rbac.User, error) {
	return s.store.Get(ctx, userID)
}

// Ping reports whether the backing store is reachable
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateUser registers a new record
func (s *Service) CreateUser(ctx context.Context, req rbac.CreateUserRequest, actor string) (*rbac.User, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}

	user := &rbac.User{
		ID:             req.ID,
		Email:          req.Email,
		Name:           req.Name,
		PrimaryRole:    req.PrimaryRole,
		TenantID:       req.TenantID,
		IsStaff:        req.IsStaff,
		CanImpersonate: req.CanImpersonate,
	}
	if err := s.store.Create(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, rbac.NewValidationError("id", fmt.Sprintf("user %q already exists", req.ID))
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.record(ctx, audit.EventTypeAdminUserCreate, actor, user.ID, &audit.ChangeDetails{
		After: map[string]interface{}{
			"primary_role":    string(user.PrimaryRole),
			"tenant_id":       user.TenantID,
			"is_staff":        user.IsStaff,
			"can_impersonate": user.CanImpersonate,
		},
	}, "user created")
	return user, nil
}

// AssignRole appends a new active association. A legacy user is promoted
// first so the implied association survives alongside the new one.
func (s *Service) AssignRole(ctx context.Context, userID string, req rbac.AssignRoleRequest, grantedBy string) (*rbac.RoleAssociation, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}
	overrides, err := normalizeOverrides(req.CustomPermissions, s.catalog, s.config.StrictOverrides)
	if err != nil {
		return nil, err
	}

	var granted rbac.RoleAssociation
	var promoted bool
	_, err = s.mutate(ctx, userID, func(u *rbac.User) (bool, error) {
		now := s.now().UTC()
		promoted = s.promote(u, now)

		granted = rbac.RoleAssociation{
			ID:                s.newID(),
			UserID:            u.ID,
			Role:              req.Role,
			TenantID:          req.TenantID,
			UnitID:            req.UnitID,
			Active:            true,
			CustomPermissions: overrides,
			GrantedAt:         now,
			GrantedBy:         grantedBy,
		}
		u.RoleAssociations = append(u.RoleAssociations, granted)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if promoted {
		s.record(ctx, audit.EventTypeAdminPromotion, rbac.MigrationGrantor, userID, nil, "legacy role promoted before grant")
	}
	s.record(ctx, audit.EventTypeRoleGrant, grantedBy, userID, &audit.ChangeDetails{
		After: associationFields(granted),
	}, "role granted")
	return &granted, nil
}

// UpdatePermissions replaces the overrides of an active association
func (s *Service) UpdatePermissions(ctx context.Context, userID, associationID string, overrides map[rbac.Feature][]rbac.Permission, actor string) (*rbac.RoleAssociation, error) {
	normalized, err := normalizeOverrides(overrides, s.catalog, s.config.StrictOverrides)
	if err != nil {
		return nil, err
	}

	var before map[rbac.Feature][]rbac.Permission
	var updated rbac.RoleAssociation
	_, err = s.mutate(ctx, userID, func(u *rbac.User) (bool, error) {
		assoc, ok := u.Association(associationID)
		if !ok {
			return false, ErrAssociationNotFound
		}
		if !assoc.Active {
			return false, ErrAssociationInactive
		}
		before = assoc.CustomPermissions
		assoc.CustomPermissions = normalized
		updated = *assoc
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.EventTypeRoleOverride, actor, userID, &audit.ChangeDetails{
		Before: map[string]interface{}{"association_id": associationID, "custom_permissions": before},
		After:  map[string]interface{}{"association_id": associationID, "custom_permissions": normalized},
	}, "custom permissions updated")
	return &updated, nil
}

// Deactivate marks an association inactive. Deactivating an inactive
// association succeeds without writing.
func (s *Service) Deactivate(ctx context.Context, userID, associationID, actor string) (*rbac.RoleAssociation, error) {
	var result rbac.RoleAssociation
	var changed bool
	_, err := s.mutate(ctx, userID, func(u *rbac.User) (bool, error) {
		assoc, ok := u.Association(associationID)
		if !ok {
			return false, ErrAssociationNotFound
		}
		changed = assoc.Active
		assoc.Active = false
		result = *assoc
		return changed, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.record(ctx, audit.EventTypeRoleDeactivate, actor, userID, &audit.ChangeDetails{
			Before: map[string]interface{}{"association_id": associationID, "active": true},
			After:  map[string]interface{}{"association_id": associationID, "active": false},
		}, "role deactivated")
	}
	return &result, nil
}

// SetFlags changes the staff and impersonation flags
func (s *Service) SetFlags(ctx context.Context, userID string, flags rbac.FlagsUpdate, actor string) (*rbac.User, error) {
	if flags.IsEmpty() {
		return nil, rbac.NewValidationError("flags", "no flags to update")
	}

	changes := &audit.ChangeDetails{
		Before: map[string]interface{}{},
		After:  map[string]interface{}{},
	}
	user, err := s.mutate(ctx, userID, func(u *rbac.User) (bool, error) {
		if flags.IsStaff != nil {
			changes.Before["is_staff"] = u.IsStaff
			changes.After["is_staff"] = *flags.IsStaff
			u.IsStaff = *flags.IsStaff
		}
		if flags.CanImpersonate != nil {
			changes.Before["can_impersonate"] = u.CanImpersonate
			changes.After["can_impersonate"] = *flags.CanImpersonate
			u.CanImpersonate = *flags.CanImpersonate
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.EventTypeAdminFlagsUpdate, actor, userID, changes, "flags updated")
	return user, nil
}

// PromoteLegacy stores the association implied by the legacy fields and
// clears them. It reports false without writing when the user has stored
// associations or nothing to promote.
func (s *Service) PromoteLegacy(ctx context.Context, userID, actor string) (*rbac.User, bool, error) {
	var promoted bool
	user, err := s.mutate(ctx, userID, func(u *rbac.User) (bool, error) {
		promoted = s.promote(u, s.now().UTC())
		return promoted, nil
	})
	if err != nil {
		return nil, false, err
	}

	if promoted {
		assoc := user.RoleAssociations[0]
		s.record(ctx, audit.EventTypeAdminPromotion, actor, userID, &audit.ChangeDetails{
			After: associationFields(assoc),
		}, "legacy role promoted")
	}
	return user, promoted, nil
}

// promote moves the legacy grant into a stored association with a fresh ID
// and clears the legacy fields, so deactivating the association revokes the
// role everywhere. An alias role is stored under its canonical name when the
// catalog gives both the same defaults, which keeps predicates that only
// match current role names unchanged.
func (s *Service) promote(u *rbac.User, now time.Time) bool {
	assoc, ok := rbac.LegacyAssociation(u, now)
	if !ok {
		return false
	}
	assoc.ID = s.newID()
	if canonical := assoc.Role.Canonical(); canonical != assoc.Role && s.catalog.SameDefaults(assoc.Role, canonical) {
		assoc.Role = canonical
	}
	u.RoleAssociations = append(u.RoleAssociations, assoc)
	u.PrimaryRole = ""
	u.TenantID = ""
	return true
}

// mutate reads the user, applies fn and writes the result, starting over on
// a version conflict. fn returning false skips the write.
func (s *Service) mutate(ctx context.Context, userID string, fn func(u *rbac.User) (bool, error)) (*rbac.User, error) {
	logger := observability.FromContext(ctx)

	for attempt := 0; ; attempt++ {
		user, err := s.store.Get(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
		}

		write, err := fn(user)
		if err != nil {
			return nil, err
		}
		if !write {
			return user, nil
		}

		err = s.store.Replace(ctx, user)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("failed to save user %s: %w", userID, err)
		}
		if attempt >= s.config.WriteRetries {
			return nil, err
		}

		logger.WithFields(map[string]interface{}{
			"user_id": userID,
			"attempt": attempt + 1,
		}).Debug("version conflict, retrying")

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (s *Service) record(ctx context.Context, eventType audit.EventType, actor, userID string, changes *audit.ChangeDetails, message string) {
	if err := s.audit.LogAdminAction(ctx, eventType, actor, userID, changes, message); err != nil {
		observability.FromContext(ctx).WithError(err).
			WithField("event_type", string(eventType)).
			Warn("failed to write audit event")
	}
}

func associationFields(a rbac.RoleAssociation) map[string]interface{} {
	fields := map[string]interface{}{
		"association_id": a.ID,
		"role":           string(a.Role),
		"tenant_id":      a.TenantID,
	}
	if a.UnitID != nil {
		fields["unit_id"] = *a.UnitID
	}
	if a.CustomPermissions != nil {
		fields["custom_permissions"] = a.CustomPermissions
	}
	return fields
}
