package domain

import (
	"errors"
	"fmt"
)

// ValidationError reports a violated entity invariant. It blocks the write
// of that single entity.
type ValidationError struct {
	Entity  string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s: %s", e.Entity, e.Message)
	}
	return fmt.Sprintf("invalid %s: %s: %s", e.Entity, e.Field, e.Message)
}

// NewValidationError creates a ValidationError
func NewValidationError(entity, field, message string) *ValidationError {
	return &ValidationError{Entity: entity, Field: field, Message: message}
}

// ParseError reports a malformed or unrecognized snapshot. It aborts the
// update of the topology it was fetched for.
type ParseError struct {
	Format string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("parse error: %v", e.Err)
	}
	return fmt.Sprintf("parse error (%s): %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError wraps err as a ParseError for the given format
func NewParseError(format string, err error) *ParseError {
	return &ParseError{Format: format, Err: err}
}

// NotFoundError reports an unknown entity id
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// NewNotFoundError creates a NotFoundError
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// AuthorizationError reports a wrong receive key
type AuthorizationError struct {
	TopologyID string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("invalid key for topology %s", e.TopologyID)
}

// IsValidation reports whether err wraps a ValidationError
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsParse reports whether err wraps a ParseError
func IsParse(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

// IsNotFound reports whether err wraps a NotFoundError
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsAuthorization reports whether err wraps an AuthorizationError
func IsAuthorization(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}
