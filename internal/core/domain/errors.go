package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode identifies the class of a field validation failure
type ErrorCode string

const (
	CodeUnknownCondition     ErrorCode = "UnknownCondition"
	CodeMissingRequiredField ErrorCode = "MissingRequiredField"
	CodeRangeViolation       ErrorCode = "RangeViolation"
	CodeEnumViolation        ErrorCode = "EnumViolation"
	CodeDateOutOfWindow      ErrorCode = "DateOutOfWindow"
	CodeUnknownField         ErrorCode = "UnknownField"
	CodeTypeViolation        ErrorCode = "TypeViolation"
)

// Storage and lookup failures. Adapters wrap the driver cause with %w so callers
// can match on these with errors.Is.
var (
	ErrUnknownCondition   = errors.New("unknown condition")
	ErrNotFound           = errors.New("entry not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrDeadlineExceeded   = errors.New("deadline exceeded")
	ErrIntegrityViolation = errors.New("integrity violation")
	ErrSchemaDrift        = errors.New("schema drift")
)

// FieldError describes a single rejected field
type FieldError struct {
	Field   string    `json:"field"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError aggregates every field error found in one submission
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Fields returns the names of all rejected fields in report order
func (e *ValidationError) Fields() []string {
	names := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		names = append(names, fe.Field)
	}
	return names
}

// Is lets errors.Is(err, ErrUnknownCondition) match a validation failure caused by an
// unknown condition tag
func (e *ValidationError) Is(target error) bool {
	if target != ErrUnknownCondition {
		return false
	}
	for _, fe := range e.Errors {
		if fe.Code == CodeUnknownCondition {
			return true
		}
	}
	return false
}

// IsRetriable reports whether a storage error may succeed on a later attempt
func IsRetriable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
