package app

import "fmt"

// DomainError is an error that already knows how the HTTP surface should
// present it: status, a stable machine-readable code, and a message safe to
// show the caller. Everything else gets mapped by mapError before leaving
// the process.
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

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
