package users

import (
	"errors"
	"time"

	"github.com/loomtale/loomtale/internal/policy"
)

// ErrNotFound is returned by the repository when no row matched a lookup or a
// conditional write.
var ErrNotFound = errors.New("users: not found")

// Status is the account state. Only active accounts may authenticate.
type Status string

// Account states.
const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusBanned    Status = "banned"
)

// ParseStatus reports whether raw names a recognized status.
func ParseStatus(raw string) (Status, bool) {
	switch s := Status(raw); s {
	case StatusActive, StatusSuspended, StatusBanned:
		return s, true
	}
	return "", false
}

// Record is a stored user account.
type Record struct {
	ID           string        `json:"id"`
	Email        string        `json:"email"`
	Roles        []policy.Role `json:"roles"`
	Status       Status        `json:"status"`
	StatusReason string        `json:"status_reason,omitempty"`
	Version      int64         `json:"version"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	UpdatedBy    string        `json:"updated_by,omitempty"`
}

// RoleUpdate replaces a user's roles. ExpectedVersion, when set, makes the
// write conditional on the stored version.
type RoleUpdate struct {
	UserID          string
	Roles           []policy.Role
	UpdatedBy       string
	UpdatedAt       time.Time
	ExpectedVersion *int64
}

// StatusUpdate replaces a user's status and reason.
type StatusUpdate struct {
	UserID          string
	Status          Status
	Reason          string
	UpdatedBy       string
	UpdatedAt       time.Time
	ExpectedVersion *int64
}

// ListFilter narrows and pages a user listing.
type ListFilter struct {
	Status  Status
	Role    policy.Role
	Page    int
	PerPage int
}

// RolesResult is returned after a role change.
type RolesResult struct {
	UserID      string              `json:"user_id"`
	Roles       []policy.Role       `json:"roles"`
	HighestRole policy.Role         `json:"highest_role"`
	Permissions []policy.Permission `json:"permissions"`
	Version     int64               `json:"version"`
	UpdatedAt   time.Time           `json:"updated_at"`
}
