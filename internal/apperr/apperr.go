// Package apperr defines the error kinds surfaced to API callers and the
// mapping from database failures onto them.
package apperr

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Kind string

const (
	KindNotFound       Kind = "NotFound"
	KindInvalidRequest Kind = "InvalidRequest"
	KindUnauthorized   Kind = "Unauthorized"
	KindForbidden      Kind = "Forbidden"
	KindConflict       Kind = "Conflict"
	KindInternal       Kind = "Internal"
)

var (
	ErrNotFound       = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidRequest = &Error{Kind: KindInvalidRequest, Message: "invalid request"}
	ErrUnauthorized   = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrForbidden      = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrConflict       = &Error{Kind: KindConflict, Message: "conflict"}
	ErrInternal       = &Error{Kind: KindInternal, Message: "internal error"}
)

// Error carries a caller-safe message. Err holds the underlying cause and
// is never rendered to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind so errors.Is(err, apperr.ErrNotFound) holds for any NotFound.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func NotFound(message string) *Error       { return New(KindNotFound, message) }
func InvalidRequest(message string) *Error { return New(KindInvalidRequest, message) }
func Unauthorized(message string) *Error   { return New(KindUnauthorized, message) }
func Forbidden(message string) *Error      { return New(KindForbidden, message) }
func Conflict(message string) *Error       { return New(KindConflict, message) }

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf reports the kind of err, defaulting to Internal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the caller-safe message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ErrInternal.Message
}

// FromDB maps a pgx error onto a kind. notFoundMsg is used both for missing
// rows and for foreign key violations, which here mean the referenced row
// is gone.
func FromDB(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &Error{Kind: KindNotFound, Message: notFoundMsg, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return &Error{Kind: KindConflict, Message: "already exists", Err: err}
		case "23503": // foreign_key_violation
			return &Error{Kind: KindNotFound, Message: notFoundMsg, Err: err}
		case "22P02": // invalid_text_representation, e.g. malformed uuid
			return &Error{Kind: KindNotFound, Message: notFoundMsg, Err: err}
		}
	}
	return Internal("database error", err)
}

func IsNotFound(err error) bool       { return errors.Is(err, ErrNotFound) }
func IsInvalidRequest(err error) bool { return errors.Is(err, ErrInvalidRequest) }
func IsConflict(err error) bool       { return errors.Is(err, ErrConflict) }
