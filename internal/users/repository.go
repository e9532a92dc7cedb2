package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomtale/loomtale/internal/platform/db"
	"github.com/loomtale/loomtale/internal/policy"
	"github.com/loomtale/loomtale/internal/shared"
)

const recordColumns = `id::text, email, roles, status, COALESCE(status_reason, ''), version, created_at, updated_at, COALESCE(updated_by, '')`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads one user by id.
func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	uid, ok := parseUserID(id)
	if !ok {
		return Record{}, ErrNotFound
	}
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM users WHERE id = $1::uuid`, uid)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// List returns one page of users and the total number of matches.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Record, int, error) {
	page := shared.NewPagination(f.Page, f.PerPage, 0)
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+`, COUNT(*) OVER() FROM users
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR $2 = ANY(roles))
		ORDER BY created_at, id LIMIT $3 OFFSET $4`,
		string(f.Status), string(f.Role), page.PerPage, (page.Page-1)*page.PerPage)
	if err != nil {
		return nil, 0, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()

	var (
		out   []Record
		total int
	)
	for rows.Next() {
		var (
			rec   Record
			roles []string
		)
		if err := rows.Scan(&rec.ID, &rec.Email, &roles, &rec.Status, &rec.StatusReason, &rec.Version,
			&rec.CreatedAt, &rec.UpdatedAt, &rec.UpdatedBy, &total); err != nil {
			return nil, 0, fmt.Errorf("users: list scan: %w", err)
		}
		rec.Roles = policy.RolesFromStrings(roles)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("users: list: %w", err)
	}
	return out, total, nil
}

// UpdateRoles writes the new roles and an audit row in one transaction.
func (r *Repository) UpdateRoles(ctx context.Context, upd RoleUpdate) (Record, error) {
	uid, ok := parseUserID(upd.UserID)
	if !ok {
		return Record{}, ErrNotFound
	}
	var rec Record
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `UPDATE users
			SET roles = $2, updated_at = $3, updated_by = $4, version = version + 1
			WHERE id = $1::uuid AND ($5::bigint IS NULL OR version = $5)
			RETURNING `+recordColumns,
			uid, policy.Strings(upd.Roles), upd.UpdatedAt, upd.UpdatedBy, upd.ExpectedVersion)
		var err error
		if rec, err = scanRecord(row); err != nil {
			return err
		}
		return shared.NewAuditLogger(tx).Record(ctx, shared.AuditLog{
			ActorID:  upd.UpdatedBy,
			Action:   "user.roles.update",
			Entity:   "user",
			EntityID: rec.ID,
			Meta:     map[string]any{"roles": policy.Strings(upd.Roles), "version": rec.Version},
			At:       upd.UpdatedAt,
		})
	})
	return rec, translate(err)
}

// UpdateStatus writes the new status and an audit row in one transaction.
func (r *Repository) UpdateStatus(ctx context.Context, upd StatusUpdate) (Record, error) {
	uid, ok := parseUserID(upd.UserID)
	if !ok {
		return Record{}, ErrNotFound
	}
	var rec Record
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `UPDATE users
			SET status = $2, status_reason = NULLIF($3, ''), updated_at = $4, updated_by = $5, version = version + 1
			WHERE id = $1::uuid AND ($6::bigint IS NULL OR version = $6)
			RETURNING `+recordColumns,
			uid, string(upd.Status), upd.Reason, upd.UpdatedAt, upd.UpdatedBy, upd.ExpectedVersion)
		var err error
		if rec, err = scanRecord(row); err != nil {
			return err
		}
		return shared.NewAuditLogger(tx).Record(ctx, shared.AuditLog{
			ActorID:  upd.UpdatedBy,
			Action:   "user.status.update",
			Entity:   "user",
			EntityID: rec.ID,
			Meta:     map[string]any{"status": upd.Status, "reason": upd.Reason, "version": rec.Version},
			At:       upd.UpdatedAt,
		})
	})
	return rec, translate(err)
}

// CountByStatus returns the number of users per status.
func (r *Repository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM users GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("users: count by status: %w", err)
	}
	defer rows.Close()
	out := make(map[Status]int)
	for rows.Next() {
		var (
			status Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// CountByRole returns the number of users holding each role.
func (r *Repository) CountByRole(ctx context.Context) (map[policy.Role]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT role, COUNT(*) FROM users, unnest(roles) AS role GROUP BY role`)
	if err != nil {
		return nil, fmt.Errorf("users: count by role: %w", err)
	}
	defer rows.Close()
	out := make(map[policy.Role]int)
	for rows.Next() {
		var (
			role string
			n    int
		)
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		out[policy.Role(role)] = n
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec   Record
		roles []string
	)
	if err := row.Scan(&rec.ID, &rec.Email, &roles, &rec.Status, &rec.StatusReason, &rec.Version,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.UpdatedBy); err != nil {
		return Record{}, err
	}
	rec.Roles = policy.RolesFromStrings(roles)
	return rec, nil
}

// parseUserID canonicalizes a user id. Ids that are not UUIDs cannot match a
// row and are reported as missing without a query.
func parseUserID(id string) (string, bool) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return uid.String(), true
}

// translate maps a zero-row conditional update to ErrNotFound.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	default:
		return fmt.Errorf("users: update: %w", err)
	}
}
