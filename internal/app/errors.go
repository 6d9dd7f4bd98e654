package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any DomainError carrying the same code, so callers can compare
// against the sentinels below with errors.Is.
func (e *DomainError) Is(target error) bool {
	other, ok := target.(*DomainError)
	if !ok || e == nil || other == nil {
		return false
	}
	return e.Code == other.Code
}

// Retryable reports whether the caller may resend the same command unchanged.
func (e *DomainError) Retryable() bool {
	return e != nil && e.Code == ErrStorageUnavailable.Code
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	ErrInvalidInput              = domainError(http.StatusUnprocessableEntity, "INVALID_INPUT", "invalid input", nil)
	ErrInvalidTransition         = domainError(http.StatusConflict, "INVALID_TRANSITION", "invalid session transition", nil)
	ErrNotActive                 = domainError(http.StatusConflict, "NOT_ACTIVE", "session is not active", nil)
	ErrUnknownRequirement        = domainError(http.StatusUnprocessableEntity, "UNKNOWN_REQUIREMENT", "requirement is not part of this session", nil)
	ErrNotAParticipant           = domainError(http.StatusForbidden, "NOT_A_PARTICIPANT", "user is not on the session roster", nil)
	ErrNotAuthorized             = domainError(http.StatusForbidden, "NOT_AUTHORIZED", "not authorized", nil)
	ErrNotFound                  = domainError(http.StatusNotFound, "NOT_FOUND", "not found", nil)
	ErrConnectionUnauthenticated = domainError(http.StatusUnauthorized, "CONNECTION_UNAUTHENTICATED", "unauthenticated", nil)
	ErrStorageUnavailable        = domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "storage unavailable", nil)
)

// failure copies a sentinel with a caller-facing message.
func failure(sentinel *DomainError, message string, details any) *DomainError {
	if message == "" {
		message = sentinel.Message
	}
	return domainError(sentinel.Status, sentinel.Code, message, details)
}
