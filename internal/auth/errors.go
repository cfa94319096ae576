package auth

import (
	"fmt"

	"github.com/spec-kit/estate-auth/internal/domain"
)

// Code identifies a token lifecycle failure. The set is closed: callers
// branch on codes, never on message text.
type Code string

const (
	CodeDecode             Code = "token_invalid"
	CodeExpired            Code = "token_expired"
	CodeBlacklisted        Code = "token_blacklisted"
	CodeSubjectNotFound    Code = "subject_not_found"
	CodeSubjectInactive    Code = "subject_inactive"
	CodeCredentialsChanged Code = "credentials_changed"
	CodeTokensNotFound     Code = "token_not_found"
	CodeRecencyMismatch    Code = "token_error"
	CodeAlreadyBlacklisted Code = "token_already_blacklisted"
	CodeStorageUnavailable Code = "storage_unavailable"
)

// Error is a token lifecycle failure carrying its code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on code so sentinel values below work with errors.Is
// regardless of the message a call site attached.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrDecode             = &Error{Code: CodeDecode, Message: "token is invalid or malformed"}
	ErrExpired            = &Error{Code: CodeExpired, Message: "token has expired"}
	ErrBlacklisted        = &Error{Code: CodeBlacklisted, Message: "token is blacklisted"}
	ErrSubjectNotFound    = &Error{Code: CodeSubjectNotFound, Message: "user not found"}
	ErrSubjectInactive    = &Error{Code: CodeSubjectInactive, Message: "user account is inactive"}
	ErrCredentialsChanged = &Error{Code: CodeCredentialsChanged, Message: "the user's password has been changed"}
	ErrTokensNotFound     = &Error{Code: CodeTokensNotFound, Message: "token does not exist"}
	ErrRecencyMismatch    = &Error{Code: CodeRecencyMismatch, Message: "the tokens do not match the user's last issued pair"}
	ErrAlreadyBlacklisted = &Error{Code: CodeAlreadyBlacklisted, Message: "token is already blacklisted"}
	ErrStorageUnavailable = &Error{Code: CodeStorageUnavailable, Message: "token store is unavailable"}
)

// DecodeError reports an invalid or malformed token of the given kind.
func DecodeError(kind domain.TokenKind, err error) *Error {
	return &Error{Code: CodeDecode, Message: fmt.Sprintf("%s token is invalid or malformed", kind), Err: err}
}

// ExpiredError reports an expired token of the given kind.
func ExpiredError(kind domain.TokenKind) *Error {
	return &Error{Code: CodeExpired, Message: fmt.Sprintf("%s token has expired", kind)}
}

// BlacklistedError reports a revoked token of the given kind.
func BlacklistedError(kind domain.TokenKind) *Error {
	return &Error{Code: CodeBlacklisted, Message: fmt.Sprintf("%s token is blacklisted", kind)}
}

// StorageError wraps a transient store fault. Never retried here; the
// caller surfaces it unchanged.
func StorageError(err error) *Error {
	return &Error{Code: CodeStorageUnavailable, Message: "token store is unavailable", Err: err}
}
