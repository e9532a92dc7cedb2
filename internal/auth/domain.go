package auth

import (
	"time"

	"github.com/loomtale/loomtale/internal/policy"
	"github.com/loomtale/loomtale/internal/users"
)

// Account is the credential-bearing view of a user.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Roles        []policy.Role
	Status       users.Status
}

// Active reports whether the account may authenticate.
func (a *Account) Active() bool {
	return a != nil && a.Status == users.StatusActive
}

// Principal converts the account into the shape the policy engine consumes.
func (a *Account) Principal() policy.Principal {
	roles := make([]policy.Role, len(a.Roles))
	copy(roles, a.Roles)
	return policy.Principal{ID: a.ID, Roles: roles}
}

// APIKey is an issued key. The raw secret is only known at creation time.
type APIKey struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Prefix    string    `json:"prefix"`
	CreatedAt time.Time `json:"created_at"`
}
