package rbac

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Errors returned by Directory and RoleManager implementations
var (
	ErrUserNotFound           = errors.New("user not found")
	ErrAssociationNotFound    = errors.New("role association not found")
	ErrAssociationInactive    = errors.New("role association is inactive")
	ErrConcurrentModification = errors.New("user was modified concurrently")
)

// ValidationError reports request fields that failed validation
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError creates a validation error for a single field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
