package users

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomtale/loomtale/internal/policy"
)

type stubRepo struct {
	records      map[string]Record
	roleWrites   []RoleUpdate
	statusWrites []StatusUpdate
	failWith     error
}

func newStubRepo(records ...Record) *stubRepo {
	s := &stubRepo{records: make(map[string]Record)}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

func (s *stubRepo) Get(ctx context.Context, id string) (Record, error) {
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *stubRepo) List(ctx context.Context, f ListFilter) ([]Record, int, error) {
	var out []Record
	for _, rec := range s.records {
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		out = append(out, rec)
	}
	return out, len(out), nil
}

func (s *stubRepo) UpdateRoles(ctx context.Context, upd RoleUpdate) (Record, error) {
	s.roleWrites = append(s.roleWrites, upd)
	if s.failWith != nil {
		return Record{}, s.failWith
	}
	rec, ok := s.records[upd.UserID]
	if !ok || (upd.ExpectedVersion != nil && *upd.ExpectedVersion != rec.Version) {
		return Record{}, ErrNotFound
	}
	rec.Roles = upd.Roles
	rec.UpdatedAt = upd.UpdatedAt
	rec.UpdatedBy = upd.UpdatedBy
	rec.Version++
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *stubRepo) UpdateStatus(ctx context.Context, upd StatusUpdate) (Record, error) {
	s.statusWrites = append(s.statusWrites, upd)
	if s.failWith != nil {
		return Record{}, s.failWith
	}
	rec, ok := s.records[upd.UserID]
	if !ok || (upd.ExpectedVersion != nil && *upd.ExpectedVersion != rec.Version) {
		return Record{}, ErrNotFound
	}
	rec.Status = upd.Status
	rec.StatusReason = upd.Reason
	rec.UpdatedAt = upd.UpdatedAt
	rec.UpdatedBy = upd.UpdatedBy
	rec.Version++
	s.records[rec.ID] = rec
	return rec, nil
}

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestService(repo RepositoryPort) *Service {
	svc := NewService(repo, policy.DefaultCatalog(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func record(id string, roles ...policy.Role) Record {
	return Record{ID: id, Email: id + "@example.com", Roles: roles, Status: StatusActive, Version: 1}
}

func principal(id string, roles ...policy.Role) policy.Principal {
	return policy.Principal{ID: id, Roles: roles}
}

func TestAdminEditsOwnRoles(t *testing.T) {
	repo := newStubRepo(record("a-1", policy.RoleAdmin))
	svc := newTestService(repo)

	res, err := svc.UpdateRoles(context.Background(), principal("a-1", policy.RoleAdmin), "a-1",
		[]policy.Role{policy.RoleModerator}, nil)
	require.NoError(t, err)
	assert.Equal(t, []policy.Role{policy.RoleModerator}, res.Roles)
	assert.Equal(t, policy.RoleModerator, res.HighestRole)
	assert.Equal(t, policy.DefaultCatalog().PermissionsFor([]policy.Role{policy.RoleModerator}), res.Permissions)
	assert.Equal(t, int64(2), res.Version)

	require.Len(t, repo.roleWrites, 1)
	assert.Equal(t, "a-1", repo.roleWrites[0].UpdatedBy)
	assert.Equal(t, fixedNow, repo.roleWrites[0].UpdatedAt)
}

func TestSuperAdminCannotDemoteSelf(t *testing.T) {
	repo := newStubRepo(record("root", policy.RoleSuperAdmin))
	svc := newTestService(repo)

	_, err := svc.UpdateRoles(context.Background(), principal("root", policy.RoleSuperAdmin), "root",
		[]policy.Role{policy.RoleAdmin}, nil)
	require.Error(t, err)
	assert.True(t, policy.IsKind(err, policy.KindSelfDemotionDenied))
	assert.Empty(t, repo.roleWrites)
}

func TestUpdateRolesSelfGuardIsExact(t *testing.T) {
	cases := []struct {
		name     string
		actor    policy.Principal
		target   string
		newRoles []policy.Role
		denied   bool
	}{
		{"self demotion", principal("s", policy.RoleSuperAdmin), "s", []policy.Role{policy.RoleAdmin}, true},
		{"self demotion with extra roles held", principal("s", policy.RoleUser, policy.RoleSuperAdmin), "s", []policy.Role{policy.RoleUser, policy.RoleAdmin}, true},
		{"self keeps super_admin", principal("s", policy.RoleSuperAdmin), "s", []policy.Role{policy.RoleSuperAdmin, policy.RoleUser}, false},
		{"demotes another super_admin", principal("s", policy.RoleSuperAdmin), "t", []policy.Role{policy.RoleUser}, false},
		{"admin self edit", principal("a", policy.RoleAdmin), "a", []policy.Role{policy.RoleUser}, false},
		{"admin self promotion", principal("a", policy.RoleAdmin), "a", []policy.Role{policy.RoleSuperAdmin}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newStubRepo(record("s", policy.RoleSuperAdmin), record("t", policy.RoleSuperAdmin), record("a", policy.RoleAdmin))
			_, err := newTestService(repo).UpdateRoles(context.Background(), tc.actor, tc.target, tc.newRoles, nil)
			if tc.denied {
				assert.True(t, policy.IsKind(err, policy.KindSelfDemotionDenied), "got %v", err)
				assert.Empty(t, repo.roleWrites)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestUpdateRolesValidation(t *testing.T) {
	repo := newStubRepo(record("u", policy.RoleUser))
	svc := newTestService(repo)
	admin := principal("a", policy.RoleAdmin)

	_, err := svc.UpdateRoles(context.Background(), admin, "u", nil, nil)
	assert.True(t, policy.IsKind(err, policy.KindInvalidRoles))

	_, err = svc.UpdateRoles(context.Background(), admin, "u", []policy.Role{policy.RoleUser, "wizard"}, nil)
	assert.True(t, policy.IsKind(err, policy.KindInvalidRoles))
	assert.ErrorContains(t, err, "wizard")

	for _, raw := range [][]string{{" admin "}, {"admin\t"}, {"Admin"}, {"SUPER_ADMIN"}, {"user", " premium"}} {
		_, err = svc.UpdateRoles(context.Background(), admin, "u", policy.RolesFromStrings(raw), nil)
		assert.True(t, policy.IsKind(err, policy.KindInvalidRoles), "roles %q", raw)
	}

	assert.Empty(t, repo.roleWrites, "validation precedes persistence")
}

func TestMutationsRequireManageUsers(t *testing.T) {
	repo := newStubRepo(record("u", policy.RoleUser))
	svc := newTestService(repo)

	for _, actor := range []policy.Principal{
		principal("m", policy.RoleModerator),
		principal("p", policy.RolePremium),
		{},
	} {
		_, err := svc.UpdateRoles(context.Background(), actor, "u", []policy.Role{policy.RoleAdmin}, nil)
		assert.True(t, policy.IsKind(err, policy.KindInsufficientPermissions))
		_, err = svc.UpdateStatus(context.Background(), actor, "u", "banned", "", nil)
		assert.True(t, policy.IsKind(err, policy.KindInsufficientPermissions))
	}
	assert.Empty(t, repo.roleWrites)
	assert.Empty(t, repo.statusWrites)
}

func TestPermissionGateRunsBeforeValidation(t *testing.T) {
	svc := newTestService(newStubRepo())
	_, err := svc.UpdateRoles(context.Background(), principal("u", policy.RoleUser), "x", []policy.Role{"bogus"}, nil)
	assert.True(t, policy.IsKind(err, policy.KindInsufficientPermissions))
}

func TestSelfSuspensionDenied(t *testing.T) {
	repo := newStubRepo(record("u", policy.RoleAdmin))
	svc := newTestService(repo)
	self := principal("u", policy.RoleAdmin)

	for _, status := range []string{"suspended", "banned"} {
		_, err := svc.UpdateStatus(context.Background(), self, "u", status, "", nil)
		assert.True(t, policy.IsKind(err, policy.KindSelfActionDenied), status)
	}
	assert.Empty(t, repo.statusWrites)

	rec, err := svc.UpdateStatus(context.Background(), self, "u", "active", "back", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, rec.Status)
	assert.Equal(t, "back", rec.StatusReason)
}

func TestUpdateStatusAnyTransitionForOthers(t *testing.T) {
	statuses := []Status{StatusActive, StatusSuspended, StatusBanned}
	for _, from := range statuses {
		for _, to := range statuses {
			target := record("t", policy.RoleUser)
			target.Status = from
			repo := newStubRepo(target)
			rec, err := newTestService(repo).UpdateStatus(context.Background(), principal("a", policy.RoleAdmin), "t", string(to), "", nil)
			require.NoError(t, err, "%s -> %s", from, to)
			assert.Equal(t, to, rec.Status)
			assert.Equal(t, "a", rec.UpdatedBy)
		}
	}
}

func TestUpdateStatusValidation(t *testing.T) {
	repo := newStubRepo(record("t", policy.RoleUser))
	_, err := newTestService(repo).UpdateStatus(context.Background(), principal("a", policy.RoleAdmin), "t", "deleted", "", nil)
	assert.True(t, policy.IsKind(err, policy.KindInvalidStatus))

	// Validation is checked before the self guard.
	_, err = newTestService(repo).UpdateStatus(context.Background(), principal("t", policy.RoleAdmin), "t", "Active", "", nil)
	assert.True(t, policy.IsKind(err, policy.KindInvalidStatus))
	assert.Empty(t, repo.statusWrites)
}

func TestMissingTargetIsUpdateFailed(t *testing.T) {
	svc := newTestService(newStubRepo())
	admin := principal("a", policy.RoleAdmin)

	_, err := svc.UpdateRoles(context.Background(), admin, "ghost", []policy.Role{policy.RoleUser}, nil)
	assert.True(t, policy.IsKind(err, policy.KindUpdateFailed))
	assert.ErrorContains(t, err, "user not found or update failed")

	_, err = svc.UpdateStatus(context.Background(), admin, "ghost", "banned", "", nil)
	assert.True(t, policy.IsKind(err, policy.KindUpdateFailed))
}

func TestStaleVersionIsUpdateFailed(t *testing.T) {
	repo := newStubRepo(record("t", policy.RoleUser))
	svc := newTestService(repo)
	stale := int64(0)

	_, err := svc.UpdateRoles(context.Background(), principal("a", policy.RoleAdmin), "t", []policy.Role{policy.RolePremium}, &stale)
	assert.True(t, policy.IsKind(err, policy.KindUpdateFailed))

	current := int64(1)
	res, err := svc.UpdateRoles(context.Background(), principal("a", policy.RoleAdmin), "t", []policy.Role{policy.RolePremium}, &current)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Version)
}

func TestRepositoryErrorsPassThrough(t *testing.T) {
	repo := newStubRepo(record("t", policy.RoleUser))
	repo.failWith = errors.New("connection reset")
	_, err := newTestService(repo).UpdateStatus(context.Background(), principal("a", policy.RoleAdmin), "t", "banned", "", nil)
	require.Error(t, err)
	assert.Equal(t, policy.Kind(""), policy.KindOf(err))
}
