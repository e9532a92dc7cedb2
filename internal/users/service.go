package users

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/loomtale/loomtale/internal/policy"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, f ListFilter) ([]Record, int, error)
	UpdateRoles(ctx context.Context, upd RoleUpdate) (Record, error)
	UpdateStatus(ctx context.Context, upd StatusUpdate) (Record, error)
}

// Service handles user administration. Both mutations are gated by
// manage_users and reject any change that would let a principal lock itself
// out.
type Service struct {
	repo    RepositoryPort
	catalog *policy.Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, catalog *policy.Catalog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, catalog: catalog, logger: logger, now: time.Now}
}

// List returns one page of users.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Record, int, error) {
	return s.repo.List(ctx, f)
}

// Get returns a single user.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.repo.Get(ctx, id)
}

// UpdateRoles replaces the target's roles. A super_admin may not drop
// super_admin from its own roles.
func (s *Service) UpdateRoles(ctx context.Context, actor policy.Principal, targetID string, newRoles []policy.Role, expectedVersion *int64) (RolesResult, error) {
	if err := s.authorize(actor); err != nil {
		return RolesResult{}, err
	}
	if len(newRoles) == 0 {
		return RolesResult{}, policy.Deny(policy.KindInvalidRoles, "at least one role is required")
	}
	var unknown []string
	for _, role := range newRoles {
		if !s.catalog.Recognizes(role) {
			unknown = append(unknown, string(role))
		}
	}
	if len(unknown) > 0 {
		return RolesResult{}, policy.Deny(policy.KindInvalidRoles, "unrecognized roles: %s", strings.Join(unknown, ", "))
	}
	if actor.ID == targetID &&
		s.catalog.HighestRole(actor.Roles) == policy.RoleSuperAdmin &&
		!policy.ContainsRole(newRoles, policy.RoleSuperAdmin) {
		return RolesResult{}, policy.Deny(policy.KindSelfDemotionDenied, "super_admin cannot remove its own super_admin role")
	}

	rec, err := s.repo.UpdateRoles(ctx, RoleUpdate{
		UserID:          targetID,
		Roles:           newRoles,
		UpdatedBy:       actor.ID,
		UpdatedAt:       s.now().UTC(),
		ExpectedVersion: expectedVersion,
	})
	if err != nil {
		return RolesResult{}, updateFailed(err)
	}

	s.logger.InfoContext(ctx, "user roles updated",
		slog.String("actor_id", actor.ID),
		slog.String("target_id", rec.ID),
		slog.Any("roles", policy.Strings(rec.Roles)),
		slog.Int64("version", rec.Version))

	return RolesResult{
		UserID:      rec.ID,
		Roles:       rec.Roles,
		HighestRole: s.catalog.HighestRole(rec.Roles),
		Permissions: s.catalog.PermissionsFor(rec.Roles),
		Version:     rec.Version,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

// UpdateStatus sets the target's account status. A principal may reactivate
// itself but may not suspend or ban itself.
func (s *Service) UpdateStatus(ctx context.Context, actor policy.Principal, targetID, newStatus, reason string, expectedVersion *int64) (Record, error) {
	if err := s.authorize(actor); err != nil {
		return Record{}, err
	}
	status, ok := ParseStatus(newStatus)
	if !ok {
		return Record{}, policy.Deny(policy.KindInvalidStatus, "status %q is not one of active, suspended, banned", newStatus)
	}
	if actor.ID == targetID && status != StatusActive {
		return Record{}, policy.Deny(policy.KindSelfActionDenied, "cannot set own status to %s", status)
	}

	rec, err := s.repo.UpdateStatus(ctx, StatusUpdate{
		UserID:          targetID,
		Status:          status,
		Reason:          strings.TrimSpace(reason),
		UpdatedBy:       actor.ID,
		UpdatedAt:       s.now().UTC(),
		ExpectedVersion: expectedVersion,
	})
	if err != nil {
		return Record{}, updateFailed(err)
	}

	s.logger.InfoContext(ctx, "user status updated",
		slog.String("actor_id", actor.ID),
		slog.String("target_id", rec.ID),
		slog.String("status", string(rec.Status)),
		slog.String("reason", rec.StatusReason),
		slog.Int64("version", rec.Version))
	return rec, nil
}

func (s *Service) authorize(actor policy.Principal) error {
	if s.catalog.HasPermission(actor.Roles, policy.PermManageUsers) {
		return nil
	}
	return policy.Deny(policy.KindInsufficientPermissions, "permission %q is required", policy.PermManageUsers)
}

func updateFailed(err error) error {
	if errors.Is(err, ErrNotFound) {
		return policy.Deny(policy.KindUpdateFailed, "user not found or update failed")
	}
	return err
}
