package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomtale/loomtale/internal/policy"
	"github.com/loomtale/loomtale/internal/shared"
)

// Repository defines persistence operations for auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByAPIKeyHash(ctx context.Context, hash string) (*Account, error)
	CreateAPIKey(ctx context.Context, userID, name, prefix, hash string) (APIKey, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const accountColumns = `u.id::text, u.email, u.password_hash, u.roles, u.status`

// FindByEmail fetches an account by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM users u WHERE lower(u.email) = lower($1)`, email))
}

// FindByID fetches an account by id.
func (r *PGRepository) FindByID(ctx context.Context, id string) (*Account, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, shared.ErrNotFound
	}
	return r.scanOne(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM users u WHERE u.id = $1::uuid`, uid.String()))
}

// FindByAPIKeyHash resolves an unrevoked API key to its owner and stamps its
// last use.
func (r *PGRepository) FindByAPIKeyHash(ctx context.Context, hash string) (*Account, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `WITH k AS (
			UPDATE api_keys SET last_used_at = NOW()
			WHERE key_hash = $1 AND revoked_at IS NULL
			RETURNING user_id
		)
		SELECT `+accountColumns+` FROM users u JOIN k ON k.user_id = u.id`, hash))
}

// CreateAPIKey stores the hash of a newly issued key.
func (r *PGRepository) CreateAPIKey(ctx context.Context, userID, name, prefix, hash string) (APIKey, error) {
	key := APIKey{UserID: userID, Name: name, Prefix: prefix}
	err := r.pool.QueryRow(ctx, `INSERT INTO api_keys (user_id, name, prefix, key_hash)
		VALUES ($1::uuid, $2, $3, $4) RETURNING id::text, created_at`,
		userID, name, prefix, hash).Scan(&key.ID, &key.CreatedAt)
	if err != nil {
		return APIKey{}, fmt.Errorf("auth: create api key: %w", err)
	}
	return key, nil
}

func (r *PGRepository) scanOne(row pgx.Row) (*Account, error) {
	var (
		acc   Account
		roles []string
	)
	if err := row.Scan(&acc.ID, &acc.Email, &acc.PasswordHash, &roles, &acc.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	acc.Roles = policy.RolesFromStrings(roles)
	return &acc, nil
}

var _ Repository = (*PGRepository)(nil)
