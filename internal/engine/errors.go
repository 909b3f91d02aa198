package engine

import (
	"errors"
	"fmt"

	"processline/internal/engine/validate"
	"processline/internal/repo"
)

type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindInvalidState     ErrorKind = "invalid_state"
	KindValidationFailed ErrorKind = "validation_failed"
	KindOutOfOrder       ErrorKind = "out_of_order"
	KindExpiredResource  ErrorKind = "expired_resource"
	KindConflict         ErrorKind = "conflict"
	KindInvalidInput     ErrorKind = "invalid_input"
)

// Error is the typed failure returned by engine operations. Issues is only
// set for KindValidationFailed and lists every unmet requirement.
type Error struct {
	Kind    ErrorKind
	Message string
	Issues  []validate.Issue
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of a typed engine error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// notFound converts repo.ErrNotFound into a typed error and passes anything else through.
func notFound(err error, entity, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return newError(KindNotFound, "%s %s not found", entity, id)
	}
	return err
}

func conflict(err error, op, id string) error {
	if errors.Is(err, repo.ErrConflict) {
		return newError(KindConflict, "process %s was modified concurrently; %s not applied", id, op)
	}
	return notFound(err, "process", id)
}

// ReferentialGap reports an optional reference that no longer resolves
// during restore. It is a warning, never an error.
type ReferentialGap struct {
	Entity string `json:"entity"`
	Field  string `json:"field"`
	Ref    string `json:"ref"`
}

func (g ReferentialGap) String() string {
	return fmt.Sprintf("%s.%s references missing %s", g.Entity, g.Field, g.Ref)
}
