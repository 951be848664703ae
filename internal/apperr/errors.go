// Package apperr defines the typed error taxonomy returned by the engine.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindForbidden       Kind = "FORBIDDEN"
	KindNotFound        Kind = "NOT_FOUND"
	KindValidation      Kind = "VALIDATION_ERROR"
	KindConflict        Kind = "CONFLICT"
)

// ConflictReason enumerates why a write was rejected against existing state.
type ConflictReason string

const (
	DuplicateMembership        ConflictReason = "DuplicateMembership"
	DuplicatePendingInvitation ConflictReason = "DuplicatePendingInvitation"
	LastOwnerRemoval           ConflictReason = "LastOwnerRemoval"
	NonEmptyDeleteTarget       ConflictReason = "NonEmptyDeleteTarget"
	ExpiredInvitation          ConflictReason = "ExpiredInvitation"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on kind and code so callers can compare against the constructors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Status maps the error kind to the HTTP status used by the route layer.
func (e *Error) Status() int {
	switch e.Kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func Unauthenticated() *Error {
	return &Error{Kind: KindUnauthenticated, Code: string(KindUnauthenticated), Message: "authentication required"}
}

// Forbidden carries a typed deny reason; reason is echoed to the client.
func Forbidden(reason string) *Error {
	return &Error{
		Kind:    KindForbidden,
		Code:    reason,
		Message: "forbidden",
		Details: map[string]any{"reason": reason},
	}
}

func NotFound(entity string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    string(KindNotFound),
		Message: entity + " not found",
		Details: map[string]any{"entity": entity},
	}
}

func Validation(field, message string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    string(KindValidation),
		Message: message,
		Details: map[string]any{"field": field},
	}
}

func Conflict(reason ConflictReason, message string) *Error {
	return &Error{
		Kind:    KindConflict,
		Code:    string(reason),
		Message: message,
		Details: map[string]any{"reason": string(reason)},
	}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err is not a domain error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}
