// SPDX-License-Identifier: Apache-2.0

// Package httperr defines the error vocabulary of the request path. Every
// failure that can reach a client is expressed as an *Error carrying a short
// enum code and the HTTP status it maps to. Handlers return these errors and
// a single response mapper turns them into JSON or HTML.
package httperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to clients. The codes are stable identifiers that UI
// translations key off of; do not reword them.
const (
	CodeNoClient                  = "ERRORS.NO_CLIENT"
	CodeNoTenant                  = "ERRORS.NO_TENANT"
	CodeTenantMismatch            = "ERRORS.TENANT_MISMATCH"
	CodeFormNotParseable          = "ERRORS.FORM_NOT_PARSEABLE"
	CodeMissingLocation           = "ERRORS.MISSING_LOCATION"
	CodeWrongCredentials          = "LOGIN.ERRORS.WRONG_CREDENTIALS"
	CodeRedirectMismatch          = "ERRORS.REDIRECT_MISMATCH"
	CodeWrongReferer              = "ERRORS.WRONG_REFERER"
	CodeChallengeMethodUnknown    = "ERRORS.CODE_CHALLENGE_METHOD_NOT_IMPLEMENTED"
	CodeServiceTimeout            = "ERRORS.SERVICE_TIMEOUT"
	CodeCodeTaken                 = "ERRORS.CODE_TAKEN"
	CodeInvalidRequest            = "ERRORS.INVALID_REQUEST"
	CodeUnauthorized              = "ERRORS.UNAUTHORIZED"
	CodeForbidden                 = "ERRORS.FORBIDDEN"
	CodeInternal                  = "ERRORS.INTERNAL"
)

// Error is an HTTP-mappable error.
type Error struct {
	// Code is the stable enum identifier rendered to the client.
	Code string

	// Status is the HTTP status the response mapper emits.
	Status int

	// Message is an operator-facing description. It is rendered to clients
	// only outside release builds.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with an explicit code and status.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches a cause to a new Error.
func Wrap(code string, status int, message string, cause error) *Error {
	return &Error{Code: code, Status: status, Message: message, Cause: cause}
}

// NoClient is returned when no client can be resolved from the request.
func NoClient() *Error {
	return New(CodeNoClient, http.StatusNotFound, "no client found for request")
}

// NoTenant is returned when no tenant is responsible for the request host.
func NoTenant() *Error {
	return New(CodeNoTenant, http.StatusNotFound, "no tenant found for request")
}

// TenantMismatch is returned when client, payload and host disagree about
// the tenant.
func TenantMismatch() *Error {
	return New(CodeTenantMismatch, http.StatusForbidden, "tenant does not match")
}

// FormNotParseable is returned when a request body cannot be decoded.
func FormNotParseable() *Error {
	return New(CodeFormNotParseable, http.StatusBadRequest, "form is not parseable")
}

// MissingLocation is returned when the login form carries no location field.
func MissingLocation() *Error {
	return New(CodeMissingLocation, http.StatusPreconditionFailed, "location is missing")
}

// WrongCredentials is returned when no provider validates the credentials.
func WrongCredentials() *Error {
	return New(CodeWrongCredentials, http.StatusForbidden, "username or password is wrong")
}

// RedirectMismatch is returned when redirect_uri matches no client pattern.
func RedirectMismatch() *Error {
	return New(CodeRedirectMismatch, http.StatusForbidden, "redirect_uri is not allowed for this client")
}

// WrongReferer is returned when the referer matches no client pattern.
func WrongReferer() *Error {
	return New(CodeWrongReferer, http.StatusForbidden, "referer is not allowed for this client")
}

// ChallengeMethodUnknown is returned for unsupported code_challenge_method values.
func ChallengeMethodUnknown(method string) *Error {
	return New(CodeChallengeMethodUnknown, http.StatusNotImplemented,
		fmt.Sprintf("code challenge method %q is not implemented", method))
}

// ServiceTimeout is returned when a store or sandbox operation times out.
func ServiceTimeout(cause error) *Error {
	return Wrap(CodeServiceTimeout, http.StatusGatewayTimeout, "service timed out", cause)
}

// BadRequest is returned for malformed input.
func BadRequest(message string) *Error {
	return New(CodeInvalidRequest, http.StatusBadRequest, message)
}

// Unauthorized is returned for missing or invalid credentials.
func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, http.StatusUnauthorized, message)
}

// Forbidden is returned when a grant or operation is not allowed.
func Forbidden(message string) *Error {
	return New(CodeForbidden, http.StatusForbidden, message)
}

// Internal wraps an unexpected fault.
func Internal(cause error) *Error {
	return Wrap(CodeInternal, http.StatusInternalServerError, "something went wrong", cause)
}

// From coerces any error into an *Error. Unknown errors become Internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
