package policy

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Unlimited marks a quota with no ceiling.
const Unlimited = math.MaxInt

// DefaultRequestedTokens is the generation size assumed when a request omits one.
const DefaultRequestedTokens = 500

// Quota is a role-scoped numeric ceiling.
type Quota struct {
	RequestsPerHour        int
	MaxTokensPerGeneration int
}

// UnboundedRequests reports whether the hourly request quota has no ceiling.
func (q Quota) UnboundedRequests() bool { return q.RequestsPerHour == Unlimited }

// UnboundedTokens reports whether the generation size has no ceiling.
func (q Quota) UnboundedTokens() bool { return q.MaxTokensPerGeneration == Unlimited }

// RoleSpec is one row of the catalog. Rank 0 is the most privileged.
type RoleSpec struct {
	Role        Role
	Rank        int
	Permissions []Permission
	Quota       Quota
}

type roleEntry struct {
	spec  RoleSpec
	perms map[Permission]struct{}
}

// Catalog is the read-only policy table. It is built once and never mutated,
// so a single value can be shared by any number of goroutines.
type Catalog struct {
	entries  map[Role]roleEntry
	ranked   []Role
	fallback Role
	actions  map[string]Permission
}

// NewCatalog validates and freezes the given tables. Ranks must be unique;
// the least privileged role becomes the fallback for unrecognized input.
func NewCatalog(specs []RoleSpec, actions map[string]Permission) (*Catalog, error) {
	if len(specs) == 0 {
		return nil, errors.New("policy: catalog requires at least one role")
	}
	c := &Catalog{
		entries: make(map[Role]roleEntry, len(specs)),
		actions: make(map[string]Permission, len(actions)),
	}
	ranks := make(map[int]Role, len(specs))
	for _, spec := range specs {
		if spec.Role == "" {
			return nil, errors.New("policy: role name required")
		}
		if _, dup := c.entries[spec.Role]; dup {
			return nil, fmt.Errorf("policy: duplicate role %q", spec.Role)
		}
		if other, dup := ranks[spec.Rank]; dup {
			return nil, fmt.Errorf("policy: roles %q and %q share rank %d", other, spec.Role, spec.Rank)
		}
		ranks[spec.Rank] = spec.Role

		perms := make([]Permission, len(spec.Permissions))
		copy(perms, spec.Permissions)
		set := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		spec.Permissions = perms
		c.entries[spec.Role] = roleEntry{spec: spec, perms: set}
		c.ranked = append(c.ranked, spec.Role)
	}
	sort.Slice(c.ranked, func(i, j int) bool {
		return c.entries[c.ranked[i]].spec.Rank < c.entries[c.ranked[j]].spec.Rank
	})
	c.fallback = c.ranked[len(c.ranked)-1]

	for action, perm := range actions {
		if action == "" || perm == "" {
			return nil, fmt.Errorf("policy: invalid action mapping %q -> %q", action, perm)
		}
		c.actions[action] = perm
	}
	return c, nil
}

// DefaultCatalog builds the production role tables.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultRoleSpecs(), DefaultActions())
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultRoleSpecs returns the production role tables. The sets are curated
// per role and are not supersets of lower ranks: admin lacks the premium-only
// batch_generation, export_data and custom_templates.
func DefaultRoleSpecs() []RoleSpec {
	guest := []Permission{PermReadPublicContent}
	user := append(clonePerms(guest), PermCreateSession, PermGenerateContent)
	premium := append(clonePerms(user),
		PermAdvancedGeneration, PermBatchGeneration, PermExportData, PermCustomTemplates)
	moderator := append(clonePerms(user),
		PermViewUserActivity, PermModerateContent, PermManageReports)
	admin := append(clonePerms(user),
		PermAdvancedGeneration, PermViewUserActivity, PermModerateContent, PermManageReports,
		PermManageUsers, PermViewSystemStats, PermConfigureSystem)

	return []RoleSpec{
		{Role: RoleSuperAdmin, Rank: 0, Permissions: AllPermissions(), Quota: Quota{RequestsPerHour: Unlimited, MaxTokensPerGeneration: Unlimited}},
		{Role: RoleAdmin, Rank: 1, Permissions: admin, Quota: Quota{RequestsPerHour: 2000, MaxTokensPerGeneration: 8000}},
		{Role: RoleModerator, Rank: 2, Permissions: moderator, Quota: Quota{RequestsPerHour: 1000, MaxTokensPerGeneration: 4000}},
		{Role: RolePremium, Rank: 3, Permissions: premium, Quota: Quota{RequestsPerHour: 500, MaxTokensPerGeneration: 4000}},
		{Role: RoleUser, Rank: 4, Permissions: user, Quota: Quota{RequestsPerHour: 100, MaxTokensPerGeneration: 2000}},
		{Role: RoleGuest, Rank: 5, Permissions: guest, Quota: Quota{RequestsPerHour: 10, MaxTokensPerGeneration: 500}},
	}
}

// Roles returns the catalog roles ordered from most to least privileged.
func (c *Catalog) Roles() []Role {
	out := make([]Role, len(c.ranked))
	copy(out, c.ranked)
	return out
}

// Spec returns a copy of the row for role.
func (c *Catalog) Spec(role Role) (RoleSpec, bool) {
	entry, ok := c.entries[role]
	if !ok {
		return RoleSpec{}, false
	}
	spec := entry.spec
	spec.Permissions = clonePerms(entry.spec.Permissions)
	return spec, true
}

// Recognizes reports whether role is part of the catalog.
func (c *Catalog) Recognizes(role Role) bool {
	_, ok := c.entries[role]
	return ok
}

// Rank returns the privilege rank of role; lower is more privileged.
func (c *Catalog) Rank(role Role) (int, bool) {
	entry, ok := c.entries[role]
	if !ok {
		return 0, false
	}
	return entry.spec.Rank, true
}

// Fallback is the role assumed for empty or unrecognized role sets.
func (c *Catalog) Fallback() Role { return c.fallback }

func clonePerms(perms []Permission) []Permission {
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}
