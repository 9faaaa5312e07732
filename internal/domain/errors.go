// Package domain provides shared domain-level sentinel errors and the
// error taxonomy exposed to clients.
package domain

import (
	"errors"
	"net/http"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity already exists with different ownership or content.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates malformed caller input.
var ErrValidation = errors.New("validation failed")

// ErrUnauthorized indicates the caller has no identity.
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden indicates the identity lacks ownership or role for the operation.
var ErrForbidden = errors.New("forbidden")

// ErrRateLimited indicates the identity exhausted its turn quota.
var ErrRateLimited = errors.New("rate limited")

// ErrUpstreamUnavailable indicates the inference or tool provider could not be reached.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Code is the machine-readable error category returned to clients.
type Code string

const (
	CodeValidationFailed    Code = "validation_failed"
	CodeUnauthorized        Code = "unauthorized"
	CodeForbidden           Code = "forbidden"
	CodeNotFound            Code = "not_found"
	CodeConflict            Code = "conflict"
	CodeRateLimited         Code = "rate_limited"
	CodeUpstreamUnavailable Code = "upstream_unavailable"
	CodeInternal            Code = "internal"
)

// CodeOf maps an error chain onto the taxonomy. Unknown errors are internal.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidationFailed
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrUpstreamUnavailable):
		return CodeUpstreamUnavailable
	default:
		return CodeInternal
	}
}

// Status returns the HTTP status code for the category.
func (c Code) Status() int {
	switch c {
	case CodeValidationFailed:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
