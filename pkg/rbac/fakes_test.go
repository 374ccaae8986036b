package rbac

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/kkjha00007/resigate/pkg/auth"
	"github.com/kkjha00007/resigate/pkg/contextkeys"
)

// memoryDirectory is an in-package Directory and RoleManager for handler tests
type memoryDirectory struct {
	mu    sync.Mutex
	users map[string]*User
	err   error
	seq   int
}

func newMemoryDirectory(users ...*User) *memoryDirectory {
	d := &memoryDirectory{users: make(map[string]*User)}
	for _, u := range users {
		d.users[u.ID] = u.Clone()
	}
	return d
}

func (d *memoryDirectory) GetUser(ctx context.Context, userID string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	u, ok := d.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u.Clone(), nil
}

func (d *memoryDirectory) AssignRole(ctx context.Context, userID string, req AssignRoleRequest, grantedBy string) (*RoleAssociation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	if !req.Role.IsKnown() {
		return nil, NewValidationError("role", "unknown role")
	}
	d.seq++
	a := RoleAssociation{
		ID:                fmt.Sprintf("assoc-%d", d.seq),
		UserID:            userID,
		Role:              req.Role,
		TenantID:          req.TenantID,
		UnitID:            req.UnitID,
		Active:            true,
		CustomPermissions: req.CustomPermissions,
		GrantedAt:         fixedNow,
		GrantedBy:         grantedBy,
	}
	u.RoleAssociations = append(u.RoleAssociations, a)
	return &a, nil
}

func (d *memoryDirectory) UpdatePermissions(ctx context.Context, userID, associationID string, overrides map[Feature][]Permission, actor string) (*RoleAssociation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	a, ok := u.Association(associationID)
	if !ok {
		return nil, ErrAssociationNotFound
	}
	if !a.Active {
		return nil, ErrAssociationInactive
	}
	a.CustomPermissions = overrides
	out := a.clone()
	return &out, nil
}

func (d *memoryDirectory) Deactivate(ctx context.Context, userID, associationID, actor string) (*RoleAssociation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	a, ok := u.Association(associationID)
	if !ok {
		return nil, ErrAssociationNotFound
	}
	a.Active = false
	out := a.clone()
	return &out, nil
}

func (d *memoryDirectory) SetFlags(ctx context.Context, userID string, flags FlagsUpdate, actor string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	if flags.IsStaff != nil {
		u.IsStaff = *flags.IsStaff
	}
	if flags.CanImpersonate != nil {
		u.CanImpersonate = *flags.CanImpersonate
	}
	return u.Clone(), nil
}

func (d *memoryDirectory) CreateUser(ctx context.Context, req CreateUserRequest, actor string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if req.ID == "" {
		return nil, NewValidationError("id", "id is required")
	}
	if _, exists := d.users[req.ID]; exists {
		return nil, NewValidationError("id", "already exists")
	}
	u := &User{ID: req.ID, Email: req.Email, Name: req.Name, PrimaryRole: req.PrimaryRole, TenantID: req.TenantID}
	d.users[u.ID] = u
	return u.Clone(), nil
}

func (d *memoryDirectory) PromoteLegacy(ctx context.Context, userID, actor string) (*User, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, false, ErrUserNotFound
	}
	a, ok := LegacyAssociation(u, fixedNow)
	if !ok {
		return u.Clone(), false, nil
	}
	d.seq++
	a.ID = fmt.Sprintf("assoc-%d", d.seq)
	u.RoleAssociations = append(u.RoleAssociations, a)
	u.PrimaryRole, u.TenantID = "", ""
	return u.Clone(), true, nil
}

func newRequest(method, path, callerID, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if callerID != "" {
		ctx := contextkeys.WithAuth(req.Context(), &auth.AuthContext{
			UserID: callerID,
			Method: auth.MethodStaticToken,
		})
		req = req.WithContext(ctx)
	}
	return req
}

var (
	platformAdmin = &User{ID: "admin", RoleAssociations: []RoleAssociation{
		{ID: "p1", UserID: "admin", Role: RolePlatformAdmin, TenantID: "S1", Active: true},
	}}
	resident = &User{ID: "resident", RoleAssociations: []RoleAssociation{
		{ID: "r1", UserID: "resident", Role: RoleResident, TenantID: "S1", Active: true},
	}}
	legacyGuard  = &User{ID: "guard", PrimaryRole: RoleGuard, TenantID: "S2"}
	societyAdmin = &User{ID: "sadmin", RoleAssociations: []RoleAssociation{
		{ID: "sa1", UserID: "sadmin", Role: RoleSocietyAdmin, TenantID: "S1", Active: true},
	}}
	neighbour = &User{ID: "neighbour", RoleAssociations: []RoleAssociation{
		{ID: "n1", UserID: "neighbour", Role: RoleResident, TenantID: "S2", Active: true},
	}}
)
