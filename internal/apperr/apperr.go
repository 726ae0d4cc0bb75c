// Package apperr defines the error kinds shared by all stores.
// Handlers translate kinds to HTTP status codes in exactly one place
// (internal/api/respond); stores never import net/http.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a store error.
type Kind int

const (
	// KindValidation is bad input: empty required field, enum miss, malformed value.
	KindValidation Kind = iota + 1
	// KindNotFound is a missing entity.
	KindNotFound
	// KindConflict is a unique-key collision or an illegal repeat (double revoke).
	KindConflict
)

// Error is a typed store error.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Validation builds a KindValidation error.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a KindNotFound error for an entity/key pair.
func NotFound(entity, key string) error {
	return &Error{Kind: KindNotFound, Message: entity + " not found: " + key}
}

// Conflict builds a KindConflict error.
func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from err, unwrapping as needed.
// Returns 0, false for untyped errors.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsNotFound reports whether err is a KindNotFound error.
func IsNotFound(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindNotFound
}
