package policy

// HighestRole returns the most privileged catalog role present in roles, or
// the fallback role when none is recognized. It is total and independent of
// input order.
func (c *Catalog) HighestRole(roles []Role) Role {
	if len(roles) == 0 {
		return c.fallback
	}
	held := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		held[r] = struct{}{}
	}
	for _, r := range c.ranked {
		if _, ok := held[r]; ok {
			return r
		}
	}
	return c.fallback
}

// PermissionsFor returns the permission set of the single highest role.
// Permissions of other roles held at the same time are not merged in.
func (c *Catalog) PermissionsFor(roles []Role) []Permission {
	return clonePerms(c.entries[c.HighestRole(roles)].spec.Permissions)
}

// HasPermission reports whether the highest role of roles grants p.
func (c *Catalog) HasPermission(roles []Role, p Permission) bool {
	_, ok := c.entries[c.HighestRole(roles)].perms[p]
	return ok
}

// QuotaFor returns the quota row of the highest role.
func (c *Catalog) QuotaFor(roles []Role) Quota {
	return c.entries[c.HighestRole(roles)].spec.Quota
}

// RateLimitFor returns the requests-per-hour ceiling of the highest role.
func (c *Catalog) RateLimitFor(roles []Role) int {
	return c.QuotaFor(roles).RequestsPerHour
}

// TokenLimitFor returns the maximum generation size of the highest role.
func (c *Catalog) TokenLimitFor(roles []Role) int {
	return c.QuotaFor(roles).MaxTokensPerGeneration
}

// Resolve computes the permission context for p. A nil principal resolves as
// the implicit guest.
func (c *Catalog) Resolve(p *Principal) Context {
	principal := GuestPrincipal()
	if p != nil {
		principal = *p
	}
	roles := make([]Role, len(principal.Roles))
	copy(roles, principal.Roles)
	highest := c.HighestRole(roles)
	entry := c.entries[highest]
	return Context{
		PrincipalID: principal.ID,
		Roles:       roles,
		HighestRole: highest,
		Permissions: clonePerms(entry.spec.Permissions),
		RateLimit:   entry.spec.Quota.RequestsPerHour,
		TokenLimit:  entry.spec.Quota.MaxTokensPerGeneration,
	}
}
