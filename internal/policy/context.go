package policy

import "context"

// Context is the reusable permission context attached to a request.
type Context struct {
	PrincipalID string       `json:"principal_id,omitempty"`
	Roles       []Role       `json:"roles"`
	HighestRole Role         `json:"highest_role"`
	Permissions []Permission `json:"permissions"`
	RateLimit   int          `json:"-"`
	TokenLimit  int          `json:"-"`
}

// Has reports whether the context grants p.
func (c Context) Has(p Permission) bool {
	for _, granted := range c.Permissions {
		if granted == p {
			return true
		}
	}
	return false
}

// Principal rebuilds the principal the context was resolved from.
func (c Context) Principal() Principal {
	roles := make([]Role, len(c.Roles))
	copy(roles, c.Roles)
	return Principal{ID: c.PrincipalID, Roles: roles}
}

type contextKey int

const (
	principalKey contextKey = iota
	permissionContextKey
)

// WithPrincipal stores the authenticated principal in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, &p)
}

// PrincipalFromContext returns the authenticated principal, or nil when the
// request is anonymous.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// WithContext stores a resolved permission context in ctx.
func WithContext(ctx context.Context, pc Context) context.Context {
	return context.WithValue(ctx, permissionContextKey, &pc)
}

// FromContext returns the attached permission context, if any.
func FromContext(ctx context.Context) (Context, bool) {
	pc, ok := ctx.Value(permissionContextKey).(*Context)
	if !ok || pc == nil {
		return Context{}, false
	}
	return *pc, true
}
