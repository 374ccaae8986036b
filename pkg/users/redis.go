package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kkjha00007/resigate/pkg/rbac"
)

// DefaultKeyPrefix namespaces every key the Redis store writes
const DefaultKeyPrefix = "resigate"

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL      string
	DB       int
	PoolSize int
}

// NewRedisClient parses the URL, applies overrides and verifies the connection
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisStore keeps each user as a JSON string. Writes run inside
// WATCH/MULTI so a concurrent writer aborts the transaction.
//
// Keys:
//
//	<prefix>:user:<id>     user document
//	<prefix>:users:legacy  set of IDs still on the legacy fields
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store. An empty prefix uses DefaultKeyPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", s.prefix, userID)
}

func (s *RedisStore) legacyKey() string {
	return s.prefix + ":users:legacy"
}

// Get implements Store
func (s *RedisStore) Get(ctx context.Context, userID string) (*rbac.User, error) {
	data, err := s.client.Get(ctx, s.userKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return unmarshalUser(data)
}

// Create implements Store
func (s *RedisStore) Create(ctx context.Context, user *rbac.User) error {
	if err := prepareCreate(user, s.now().UTC()); err != nil {
		return err
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	key := s.userKey(user.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			s.indexLegacy(ctx, pipe, user)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, redis.TxFailedErr):
		return ErrAlreadyExists
	default:
		return fmt.Errorf("failed to create user: %w", err)
	}
}

// Replace implements Store
func (s *RedisStore) Replace(ctx context.Context, user *rbac.User) error {
	expected := user.Version
	next := user.Clone()
	next.Version = expected + 1
	next.UpdatedAt = s.now().UTC()

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	key := s.userKey(user.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		stored, err := unmarshalUser(current)
		if err != nil {
			return err
		}
		if stored.Version != expected {
			return ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			s.indexLegacy(ctx, pipe, next)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
	case errors.Is(err, redis.TxFailedErr):
		return ErrConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		return err
	default:
		return fmt.Errorf("failed to update user: %w", err)
	}

	user.Version = next.Version
	user.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *RedisStore) indexLegacy(ctx context.Context, pipe redis.Pipeliner, user *rbac.User) {
	if user.IsLegacy() {
		pipe.SAdd(ctx, s.legacyKey(), user.ID)
	} else {
		pipe.SRem(ctx, s.legacyKey(), user.ID)
	}
}

// ListLegacy implements Store. IDs whose documents vanished or no longer
// qualify are skipped.
func (s *RedisStore) ListLegacy(ctx context.Context, afterID string, limit int) ([]*rbac.User, error) {
	limit = normalizeLimit(limit)

	ids, err := s.client.SMembers(ctx, s.legacyKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list legacy users: %w", err)
	}
	sort.Strings(ids)

	out := make([]*rbac.User, 0, limit)
	for _, id := range ids {
		if len(out) == limit {
			break
		}
		if id <= afterID {
			continue
		}
		user, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if user.IsLegacy() {
			out = append(out, user)
		}
	}
	return out, nil
}

// Ping implements Store
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func unmarshalUser(data []byte) (*rbac.User, error) {
	var user rbac.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &user, nil
}
