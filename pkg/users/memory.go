package users

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kkjha00007/resigate/pkg/rbac"
)

// MemoryStore keeps users in process memory. Records are deep-copied on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*rbac.User
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*rbac.User),
		now:   time.Now,
	}
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, userID string) (*rbac.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return user.Clone(), nil
}

// Create implements Store
func (s *MemoryStore) Create(ctx context.Context, user *rbac.User) error {
	if err := prepareCreate(user, s.now().UTC()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return ErrAlreadyExists
	}
	s.users[user.ID] = user.Clone()
	return nil
}

// Replace implements Store
func (s *MemoryStore) Replace(ctx context.Context, user *rbac.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.users[user.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != user.Version {
		return ErrConflict
	}

	user.Version++
	user.UpdatedAt = s.now().UTC()
	s.users[user.ID] = user.Clone()
	return nil
}

// ListLegacy implements Store
func (s *MemoryStore) ListLegacy(ctx context.Context, afterID string, limit int) ([]*rbac.User, error) {
	limit = normalizeLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0)
	for id, user := range s.users {
		if id > afterID && user.IsLegacy() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]*rbac.User, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.users[id].Clone())
	}
	return out, nil
}

// Ping implements Store
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
