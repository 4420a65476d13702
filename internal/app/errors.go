package app

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindValidation    ErrorKind = "ValidationError"
	KindUnknownSender ErrorKind = "UnknownSender"
	KindConflict      ErrorKind = "Conflict"
	KindNotFound      ErrorKind = "NotFound"
	KindUnauthorized  ErrorKind = "Unauthorized"
	KindStore         ErrorKind = "StoreError"
)

// DomainError is the single error shape the service returns; the HTTP layer
// maps it to a status code and a {code, error, details} body.
type DomainError struct {
	Kind    ErrorKind
	Status  int
	Code    string
	Message string
	Details []string
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

var kindStatus = map[ErrorKind]struct {
	status int
	code   string
}{
	KindValidation:    {http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	KindUnknownSender: {http.StatusUnprocessableEntity, "UNKNOWN_SENDER"},
	KindConflict:      {http.StatusConflict, "CONFLICT"},
	KindNotFound:      {http.StatusNotFound, "NOT_FOUND"},
	KindUnauthorized:  {http.StatusUnauthorized, "UNAUTHORIZED"},
	KindStore:         {http.StatusInternalServerError, "STORE_ERROR"},
}

func domainError(kind ErrorKind, message string, details ...string) *DomainError {
	mapped := kindStatus[kind]
	return &DomainError{
		Kind:    kind,
		Status:  mapped.status,
		Code:    mapped.code,
		Message: message,
		Details: details,
	}
}

func validationError(details ...string) *DomainError {
	return domainError(KindValidation, "Invalid input", details...)
}

func storeError(op string, err error) *DomainError {
	e := domainError(KindStore, "Storage failure")
	e.Err = fmt.Errorf("%s: %w", op, err)
	return e
}

// IsKind reports whether err is a DomainError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Kind == kind
}
