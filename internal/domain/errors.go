package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrValidation        = errors.New("validation failed")
	ErrBlocked           = errors.New("blocked by dependencies")
	ErrPolicyViolation   = errors.New("relationship policy violation")
)

// NotFound wraps ErrNotFound with the entity kind and id.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s status transition %s -> %s (%s)", e.Entity, e.From, e.To, e.ID)
}

func (e InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func (e ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for a ValidationError.
func Invalid(field, reason string) error {
	return ValidationError{Field: field, Reason: reason}
}

type BlockedError struct {
	TaskID      string
	BlockingIDs []string
}

func (e BlockedError) Error() string {
	return fmt.Sprintf("task %s blocked by unfinished dependencies: %s", e.TaskID, strings.Join(e.BlockingIDs, ","))
}

func (e BlockedError) Unwrap() error { return ErrBlocked }

type PolicyViolationError struct {
	RelationshipID string
	Reason         string
}

func (e PolicyViolationError) Error() string {
	return fmt.Sprintf("relationship %s: %s", e.RelationshipID, e.Reason)
}

func (e PolicyViolationError) Unwrap() error { return ErrPolicyViolation }
