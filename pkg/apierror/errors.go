// Package apierror defines the typed error taxonomy shared by services and
// the HTTP boundary. Services return *Error values; handlers map them 1:1 to
// JSON responses and never invent status codes of their own.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable error codes carried in denial responses.
const (
	CodeAuthenticationRequired = "authentication_required"
	CodeProfileMissing         = "profile_missing"
	CodePermissionDenied       = "permission_denied"
	CodeRoleDenied             = "role_denied"
	CodeTenantRequired         = "tenant_required"
	CodeTenantNotFound         = "tenant_not_found"
	CodeCrossTenantAccess      = "cross_tenant_access"
	CodeNotFound               = "not_found"
	CodeInvalidRequest         = "invalid_request"
	CodeServiceFailure         = "service_failure"
)

// Error is a service-layer failure with an HTTP mapping.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Detail  string `json:"detail,omitempty"`
	Status  int    `json:"-"`

	cause error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// AuthenticationRequired indicates the request carried no verified identity.
func AuthenticationRequired() *Error {
	return &Error{
		Code:    CodeAuthenticationRequired,
		Message: "Authentication required",
		Detail:  "You must be logged in to access this resource",
		Status:  http.StatusUnauthorized,
	}
}

// ProfileMissing indicates an authenticated identity without a profile row.
// Treated as forbidden, never as not-found, so guards fail closed.
func ProfileMissing() *Error {
	return &Error{
		Code:    CodeProfileMissing,
		Message: "User profile not found",
		Status:  http.StatusForbidden,
	}
}

// PermissionDenied carries the name of the permission that was required.
func PermissionDenied(permission string) *Error {
	return &Error{
		Code:    CodePermissionDenied,
		Message: "Permission denied",
		Detail:  fmt.Sprintf("You do not have permission: %s", permission),
		Status:  http.StatusForbidden,
	}
}

// RoleDenied carries the required role set and the caller's actual role.
func RoleDenied(required, actual string) *Error {
	return &Error{
		Code:    CodeRoleDenied,
		Message: "Access denied",
		Detail:  fmt.Sprintf("This resource requires role: %s. Your role: %s", required, actual),
		Status:  http.StatusForbidden,
	}
}

// TenantRequired indicates an org-scoped endpoint was called without a tenant.
func TenantRequired() *Error {
	return &Error{
		Code:    CodeTenantRequired,
		Message: "Organization required",
		Detail:  "This endpoint requires a valid organization in the URL path, expected format: /api/org/{org_slug}/...",
		Status:  http.StatusBadRequest,
	}
}

// TenantNotFound indicates the URL named an organization slug that does not exist.
func TenantNotFound(slug string) *Error {
	return &Error{
		Code:    CodeTenantNotFound,
		Message: "Organization not found",
		Detail:  fmt.Sprintf("Organization with slug %q does not exist", slug),
		Status:  http.StatusNotFound,
	}
}

// CrossTenantAccess indicates a principal addressed an organization other than its own.
func CrossTenantAccess() *Error {
	return &Error{
		Code:    CodeCrossTenantAccess,
		Message: "Access denied",
		Detail:  "You do not have access to this organization",
		Status:  http.StatusForbidden,
	}
}

// NotFound indicates a missing entity of the given kind.
func NotFound(kind string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", kind),
		Status:  http.StatusNotFound,
	}
}

// Invalid indicates a malformed or unprocessable request.
func Invalid(detail string) *Error {
	return &Error{
		Code:    CodeInvalidRequest,
		Message: "Invalid request",
		Detail:  detail,
		Status:  http.StatusBadRequest,
	}
}

// ServiceFailure wraps an unexpected internal error. The underlying cause is
// logged by the caller, never exposed in the response body.
func ServiceFailure(err error) *Error {
	e := &Error{
		Code:    CodeServiceFailure,
		Message: "Internal server error",
		Status:  http.StatusInternalServerError,
	}
	if err != nil {
		e.cause = err
	}
	return e
}

// Error keeps the wrapped cause for logging without serializing it.
func (e *Error) Unwrap() error { return e.cause }

// From converts any error to an *Error, wrapping unknown errors as a
// ServiceFailure so unexpected failures deny rather than leak.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ServiceFailure(err)
}
