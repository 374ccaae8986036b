package users

import (
	"context"
	"errors"
	"time"

	"github.com/kkjha00007/resigate/pkg/observability"
	"github.com/kkjha00007/resigate/pkg/rbac"
)

// Errors returned by stores and the service. They alias the rbac errors so
// the HTTP layer can map them without importing this package.
var (
	ErrNotFound            = rbac.ErrUserNotFound
	ErrConflict            = rbac.ErrConcurrentModification
	ErrAssociationNotFound = rbac.ErrAssociationNotFound
	ErrAssociationInactive = rbac.ErrAssociationInactive
	ErrAlreadyExists       = errors.New("user already exists")
)

// ValidationError reports request fields that failed validation
type ValidationError = rbac.ValidationError

// DefaultListLimit bounds ListLegacy when the caller passes no limit
const DefaultListLimit = 100

// Store persists user authorization records as whole documents.
//
// Replace is a compare-and-set on Version: it succeeds only when the stored
// version equals user.Version, and on success sets user.Version to the new
// stored version. Otherwise it returns ErrConflict.
type Store interface {
	Get(ctx context.Context, userID string) (*rbac.User, error)
	Create(ctx context.Context, user *rbac.User) error
	Replace(ctx context.Context, user *rbac.User) error
	// ListLegacy returns up to limit users that rely on the legacy role
	// fields and whose ID sorts after afterID, ordered by ID
	ListLegacy(ctx context.Context, afterID string, limit int) ([]*rbac.User, error)
	Ping(ctx context.Context) error
}

// InstrumentedStore records latency, outcome and conflicts of every call
type InstrumentedStore struct {
	store   Store
	backend string
	metrics *observability.Metrics
}

// NewInstrumentedStore wraps store. backend labels the metrics.
func NewInstrumentedStore(store Store, backend string, metrics *observability.Metrics) *InstrumentedStore {
	return &InstrumentedStore{store: store, backend: backend, metrics: metrics}
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	if errors.Is(err, ErrNotFound) {
		// A miss is an answer, not a failure
		err = nil
	}
	if errors.Is(err, ErrConflict) {
		s.metrics.RecordConflict(s.backend)
	}
	s.metrics.RecordStoreOperation(op, s.backend, err, time.Since(start))
}

// Get implements Store
func (s *InstrumentedStore) Get(ctx context.Context, userID string) (user *rbac.User, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())
	return s.store.Get(ctx, userID)
}

// Create implements Store
func (s *InstrumentedStore) Create(ctx context.Context, user *rbac.User) (err error) {
	defer func(start time.Time) { s.observe("create", start, err) }(time.Now())
	return s.store.Create(ctx, user)
}

// Replace implements Store
func (s *InstrumentedStore) Replace(ctx context.Context, user *rbac.User) (err error) {
	defer func(start time.Time) { s.observe("replace", start, err) }(time.Now())
	return s.store.Replace(ctx, user)
}

// ListLegacy implements Store
func (s *InstrumentedStore) ListLegacy(ctx context.Context, afterID string, limit int) (users []*rbac.User, err error) {
	defer func(start time.Time) { s.observe("list_legacy", start, err) }(time.Now())
	return s.store.ListLegacy(ctx, afterID, limit)
}

// Ping implements Store
func (s *InstrumentedStore) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// prepareCreate validates a new record and stamps version and timestamps
func prepareCreate(user *rbac.User, now time.Time) error {
	if user == nil || user.ID == "" {
		return rbac.NewValidationError("id", "id is required")
	}
	user.Version = 1
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	return nil
}
