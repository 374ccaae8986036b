package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kkjha00007/resigate/pkg/rbac"
)

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys
const uniqueViolation = "23505"

const usersSchema = `
CREATE TABLE IF NOT EXISTS users (
	id          TEXT PRIMARY KEY,
	doc         JSONB NOT NULL,
	version     BIGINT NOT NULL,
	is_legacy   BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_legacy ON users (id) WHERE is_legacy;
`

// PostgresConfig holds connection pool settings
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenPostgres opens and verifies a connection pool
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// PostgresStore keeps each user as a JSONB document guarded by a version column
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore creates a store on an open pool
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Migrate creates the users table if it does not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, usersSchema); err != nil {
		return fmt.Errorf("failed to migrate users table: %w", err)
	}
	return nil
}

// Get implements Store
func (s *PostgresStore) Get(ctx context.Context, userID string) (*rbac.User, error) {
	query := `SELECT doc, version FROM users WHERE id = $1`

	var doc []byte
	var version int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&doc, &version)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return decodeUser(doc, version)
}

// Create implements Store
func (s *PostgresStore) Create(ctx context.Context, user *rbac.User) error {
	if err := prepareCreate(user, s.now().UTC()); err != nil {
		return err
	}

	doc, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	query := `
		INSERT INTO users (id, doc, version, is_legacy, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.db.ExecContext(ctx, query, user.ID, doc, user.Version, user.IsLegacy(), user.CreatedAt, user.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// Replace implements Store
func (s *PostgresStore) Replace(ctx context.Context, user *rbac.User) error {
	expected := user.Version
	next := user.Clone()
	next.Version = expected + 1
	next.UpdatedAt = s.now().UTC()

	doc, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	query := `
		UPDATE users
		SET doc = $1, version = $2, is_legacy = $3, updated_at = $4
		WHERE id = $5 AND version = $6
	`
	result, err := s.db.ExecContext(ctx, query, doc, next.Version, next.IsLegacy(), next.UpdatedAt, user.ID, expected)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return s.missOrConflict(ctx, user.ID)
	}

	user.Version = next.Version
	user.UpdatedAt = next.UpdatedAt
	return nil
}

// missOrConflict tells a missing row apart from a stale version
func (s *PostgresStore) missOrConflict(ctx context.Context, userID string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

// ListLegacy implements Store
func (s *PostgresStore) ListLegacy(ctx context.Context, afterID string, limit int) ([]*rbac.User, error) {
	query := `SELECT doc, version FROM users WHERE is_legacy AND id > $1 ORDER BY id LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, afterID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list legacy users: %w", err)
	}
	defer rows.Close()

	var out []*rbac.User
	for rows.Next() {
		var doc []byte
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		user, err := decodeUser(doc, version)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return out, nil
}

// Ping implements Store
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// decodeUser parses a stored document. The version column wins over the
// copy embedded in the document.
func decodeUser(doc []byte, version int64) (*rbac.User, error) {
	var user rbac.User
	if err := json.Unmarshal(doc, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	user.Version = version
	return &user, nil
}
