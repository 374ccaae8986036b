package rbac

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	dir := newMemoryDirectory(resident, legacyGuard)

	manager, err := NewManager(DefaultConfig(), dir, dir, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultFeatures, manager.GetCatalog().Features())
	assert.NotNil(t, manager.GetChecker())
	assert.NotNil(t, manager.GetMiddleware())

	router := mux.NewRouter()
	manager.RegisterRoutes(router)
	rec := serve(router, newRequest(http.MethodGet, "/rbac/me/capabilities", "guard", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewManager_CatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixtureCatalog), 0o600))

	dir := newMemoryDirectory()
	manager, err := NewManager(Config{CatalogPath: path}, dir, dir, nil, nil)
	require.NoError(t, err)
	assert.Len(t, manager.GetCatalog().Features(), 2)

	_, err = NewManager(Config{CatalogPath: filepath.Join(t.TempDir(), "nope.yaml")}, dir, dir, nil, nil)
	assert.Error(t, err)
}

func TestManager_HasPermission(t *testing.T) {
	dir := newMemoryDirectory(resident)
	clock := func() time.Time { return fixedNow }
	manager, err := NewManager(Config{Clock: clock}, dir, dir, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	allowed, err := manager.HasPermission(ctx, "resident", FeatureVisitorManagement, PermissionCreate, "S1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = manager.HasPermission(ctx, "nobody", FeatureVisitorManagement, PermissionCreate, "")
	require.NoError(t, err)
	assert.False(t, allowed)

	dir.err = errors.New("timeout")
	_, err = manager.HasPermission(ctx, "resident", FeatureVisitorManagement, PermissionCreate, "S1")
	assert.ErrorContains(t, err, "timeout")
}

func TestNewManager_PreloadedCatalog(t *testing.T) {
	catalog, err := LoadCatalog(strings.NewReader(fixtureCatalog))
	require.NoError(t, err)

	dir := newMemoryDirectory()
	manager, err := NewManager(Config{Catalog: catalog, CatalogPath: "/does/not/exist.yaml"}, dir, dir, nil, nil)
	require.NoError(t, err)
	assert.Same(t, catalog, manager.GetCatalog())
}
