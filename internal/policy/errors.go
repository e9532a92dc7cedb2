package policy

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable machine-readable class of a denial.
type Kind string

// Denial kinds.
const (
	KindInsufficientPermissions Kind = "INSUFFICIENT_PERMISSIONS"
	KindInsufficientRole        Kind = "INSUFFICIENT_ROLE"
	KindInsufficientRoleLevel   Kind = "INSUFFICIENT_ROLE_LEVEL"
	KindTokenLimitExceeded      Kind = "TOKEN_LIMIT_EXCEEDED"
	KindRateLimitExceeded       Kind = "RATE_LIMIT_EXCEEDED"
	KindSelfDemotionDenied      Kind = "SELF_DEMOTION_DENIED"
	KindSelfActionDenied        Kind = "SELF_ACTION_DENIED"
	KindInvalidRoles            Kind = "INVALID_ROLES"
	KindInvalidStatus           Kind = "INVALID_STATUS"
	KindUpdateFailed            Kind = "UPDATE_FAILED"
)

var statusByKind = map[Kind]int{
	KindInsufficientPermissions: http.StatusForbidden,
	KindInsufficientRole:        http.StatusForbidden,
	KindInsufficientRoleLevel:   http.StatusForbidden,
	KindTokenLimitExceeded:      http.StatusForbidden,
	KindRateLimitExceeded:       http.StatusTooManyRequests,
	KindSelfDemotionDenied:      http.StatusForbidden,
	KindSelfActionDenied:        http.StatusForbidden,
	KindInvalidRoles:            http.StatusBadRequest,
	KindInvalidStatus:           http.StatusBadRequest,
	KindUpdateFailed:            http.StatusNotFound,
}

// Error is an expected, operational denial. It is never retried.
type Error struct {
	Kind    Kind
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ErrorKind returns the machine-readable kind.
func (e *Error) ErrorKind() string { return string(e.Kind) }

// DenialMessage returns the human-readable message without the kind prefix.
func (e *Error) DenialMessage() string { return e.Message }

// HTTPStatus returns the status code used at the HTTP boundary.
func (e *Error) HTTPStatus() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusForbidden
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Deny builds a denial of the given kind.
func Deny(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the denial kind from err, or "" when err is not a denial.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err is a denial of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
