package rbac

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/kkjha00007/resigate/pkg/audit"
	"github.com/kkjha00007/resigate/pkg/observability"
)

// Config holds RBAC configuration
type Config struct {
	// Catalog is used as is when set
	Catalog *Catalog

	// CatalogPath points at a YAML catalog. Empty uses DefaultCatalog.
	CatalogPath string

	// Clock stamps legacy associations and decisions. Nil uses time.Now.
	Clock func() time.Time
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{Clock: time.Now}
}

// Manager manages all RBAC components
type Manager struct {
	catalog    *Catalog
	checker    *PermissionChecker
	directory  Directory
	handlers   *Handlers
	middleware *PermissionMiddleware
	config     Config
}

// NewManager creates a new RBAC manager
func NewManager(config Config, directory Directory, roles RoleManager, metrics *observability.Metrics, auditLogger audit.Logger) (*Manager, error) {
	catalog := config.Catalog
	switch {
	case catalog != nil:
	case config.CatalogPath != "":
		loaded, err := LoadCatalogFile(config.CatalogPath)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	default:
		catalog = DefaultCatalog()
	}

	checker := NewPermissionChecker(catalog, WithClock(config.Clock))
	middleware := NewPermissionMiddleware(checker, directory,
		WithMetrics(metrics),
		WithAuditLogger(auditLogger),
	)
	handlers := NewHandlers(checker, directory, roles, middleware, metrics)

	return &Manager{
		catalog:    catalog,
		checker:    checker,
		directory:  directory,
		handlers:   handlers,
		middleware: middleware,
		config:     config,
	}, nil
}

// LoadCatalogFile reads a YAML catalog from disk
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", path, err)
	}
	defer f.Close()

	catalog, err := LoadCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog %s: %w", path, err)
	}
	return catalog, nil
}

// RegisterRoutes registers RBAC routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// GetCatalog returns the catalog in use
func (m *Manager) GetCatalog() *Catalog {
	return m.catalog
}

// GetChecker returns the permission checker
func (m *Manager) GetChecker() *PermissionChecker {
	return m.checker
}

// GetMiddleware returns the permission middleware
func (m *Manager) GetMiddleware() *PermissionMiddleware {
	return m.middleware
}

// HasPermission loads the user and answers the query. A missing user is
// denied without error.
func (m *Manager) HasPermission(ctx context.Context, userID string, feature Feature, perm Permission, tenantID string) (bool, error) {
	user, err := m.directory.GetUser(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	return m.checker.HasPermission(user, feature, perm, tenantID), nil
}
