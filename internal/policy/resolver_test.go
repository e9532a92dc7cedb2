package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rankedRoles = []Role{RoleSuperAdmin, RoleAdmin, RoleModerator, RolePremium, RoleUser, RoleGuest}

// subsets enumerates every subset of rankedRoles, 64 in total.
func subsets() [][]Role {
	var out [][]Role
	for mask := 0; mask < 1<<len(rankedRoles); mask++ {
		var set []Role
		for i, r := range rankedRoles {
			if mask&(1<<i) != 0 {
				set = append(set, r)
			}
		}
		out = append(out, set)
	}
	return out
}

func TestHighestRoleIsTotalAndPicksBestRank(t *testing.T) {
	c := DefaultCatalog()
	for _, set := range subsets() {
		got := c.HighestRole(set)
		want := RoleGuest
		for _, r := range rankedRoles {
			if ContainsRole(set, r) {
				want = r
				break
			}
		}
		assert.Equal(t, want, got, "roles=%v", set)
		assert.Equal(t, got, c.HighestRole(set), "deterministic for %v", set)
	}
}

func TestHighestRoleIgnoresUnrecognizedAndDuplicates(t *testing.T) {
	c := DefaultCatalog()
	assert.Equal(t, RoleGuest, c.HighestRole(nil))
	assert.Equal(t, RoleGuest, c.HighestRole([]Role{}))
	assert.Equal(t, RoleGuest, c.HighestRole([]Role{"root", "owner"}))
	assert.Equal(t, RolePremium, c.HighestRole([]Role{"root", RolePremium, RolePremium, RoleUser}))
	assert.Equal(t, RoleGuest, c.HighestRole([]Role{"Admin"}), "role names are case sensitive")
}

func TestPermissionsForUsesOnlyHighestRole(t *testing.T) {
	c := DefaultCatalog()
	for _, set := range subsets() {
		spec, ok := c.Spec(c.HighestRole(set))
		require.True(t, ok)
		assert.Equal(t, spec.Permissions, c.PermissionsFor(set), "roles=%v", set)
	}

	perms := c.PermissionsFor([]Role{RolePremium, RoleModerator})
	assert.Contains(t, perms, PermModerateContent)
	assert.NotContains(t, perms, PermExportData, "premium permissions are not merged into moderator")
}

func TestPermissionsForIsOrderIndependent(t *testing.T) {
	c := DefaultCatalog()
	assert.Equal(t,
		c.PermissionsFor([]Role{RoleUser, RolePremium}),
		c.PermissionsFor([]Role{RolePremium, RoleUser}))
}

func TestPermissionsForReturnsCopy(t *testing.T) {
	c := DefaultCatalog()
	perms := c.PermissionsFor([]Role{RoleGuest})
	perms[0] = PermSystemMaintenance
	assert.False(t, c.HasPermission([]Role{RoleGuest}, PermSystemMaintenance))
}

func TestEmptyRolesResolveToGuestQuotas(t *testing.T) {
	c := DefaultCatalog()
	assert.Equal(t, RoleGuest, c.HighestRole(nil))
	assert.Equal(t, 500, c.TokenLimitFor(nil))
	assert.Equal(t, 10, c.RateLimitFor(nil))
}

func TestUserAndPremiumResolveToPremium(t *testing.T) {
	c := DefaultCatalog()
	roles := []Role{RoleUser, RolePremium}
	assert.Equal(t, RolePremium, c.HighestRole(roles))
	assert.True(t, c.HasPermission(roles, PermBatchGeneration))
	assert.Equal(t, c.PermissionsFor(roles), c.PermissionsFor([]Role{RolePremium, RoleUser}))
}

func TestDefaultTokenRequestFitsEveryRole(t *testing.T) {
	c := DefaultCatalog()
	for _, r := range c.Roles() {
		assert.GreaterOrEqual(t, c.TokenLimitFor([]Role{r}), DefaultRequestedTokens, "role %s", r)
	}
}

func TestQuotaTables(t *testing.T) {
	c := DefaultCatalog()
	cases := []struct {
		role     Role
		requests int
		tokens   int
	}{
		{RoleGuest, 10, 500},
		{RoleUser, 100, 2000},
		{RolePremium, 500, 4000},
		{RoleModerator, 1000, 4000},
		{RoleAdmin, 2000, 8000},
		{RoleSuperAdmin, Unlimited, Unlimited},
	}
	for _, tc := range cases {
		t.Run(string(tc.role), func(t *testing.T) {
			roles := []Role{tc.role}
			assert.Equal(t, tc.requests, c.RateLimitFor(roles))
			assert.Equal(t, tc.tokens, c.TokenLimitFor(roles))
		})
	}
	assert.True(t, c.QuotaFor([]Role{RoleSuperAdmin}).UnboundedTokens())
	assert.True(t, c.QuotaFor([]Role{RoleSuperAdmin}).UnboundedRequests())
	assert.False(t, c.QuotaFor([]Role{RoleAdmin}).UnboundedTokens())
}

func TestResolveNilPrincipalIsGuest(t *testing.T) {
	c := DefaultCatalog()
	pc := c.Resolve(nil)
	assert.Equal(t, "", pc.PrincipalID)
	assert.Equal(t, []Role{RoleGuest}, pc.Roles)
	assert.Equal(t, RoleGuest, pc.HighestRole)
	assert.Equal(t, []Permission{PermReadPublicContent}, pc.Permissions)
	assert.Equal(t, 10, pc.RateLimit)
	assert.Equal(t, 500, pc.TokenLimit)
}

func TestResolvePrincipal(t *testing.T) {
	c := DefaultCatalog()
	pc := c.Resolve(&Principal{ID: "u-1", Roles: []Role{RoleModerator, RolePremium}})
	assert.Equal(t, "u-1", pc.PrincipalID)
	assert.Equal(t, RoleModerator, pc.HighestRole)
	assert.True(t, pc.Has(PermManageReports))
	assert.False(t, pc.Has(PermExportData))
	assert.Equal(t, 1000, pc.RateLimit)
	assert.Equal(t, 4000, pc.TokenLimit)
	assert.Equal(t, Principal{ID: "u-1", Roles: []Role{RoleModerator, RolePremium}}, pc.Principal())
}
