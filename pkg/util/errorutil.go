package util

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spec-kit/estate-auth/internal/auth"
)

// DomainError standardizes application errors at the HTTP boundary.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// tokenErrorStatus maps each token lifecycle code to its HTTP status.
// The token core itself never sees HTTP; this table is the only place
// the mapping lives.
var tokenErrorStatus = map[auth.Code]int{
	auth.CodeDecode:             http.StatusUnauthorized,
	auth.CodeExpired:            http.StatusUnauthorized,
	auth.CodeBlacklisted:        http.StatusUnauthorized,
	auth.CodeSubjectNotFound:    http.StatusNotFound,
	auth.CodeSubjectInactive:    http.StatusUnauthorized,
	auth.CodeCredentialsChanged: http.StatusUnauthorized,
	auth.CodeTokensNotFound:     http.StatusNotFound,
	auth.CodeRecencyMismatch:    http.StatusUnauthorized,
	auth.CodeAlreadyBlacklisted: http.StatusConflict,
	auth.CodeStorageUnavailable: http.StatusServiceUnavailable,
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	var tokenErr *auth.Error
	if errors.As(err, &tokenErr) {
		status, ok := tokenErrorStatus[tokenErr.Code]
		if !ok {
			status = http.StatusUnauthorized
		}
		return &DomainError{
			Code:       strings.ToUpper(string(tokenErr.Code)),
			Message:    tokenErr.Message,
			HTTPStatus: status,
			Err:        tokenErr.Err,
		}
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
