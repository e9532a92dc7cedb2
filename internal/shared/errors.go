package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure or an unknown credential.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountInactive indicates a suspended or banned account.
	ErrAccountInactive = errors.New("account is not active")
)
