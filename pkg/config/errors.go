package config

import (
	"errors"
	"fmt"
)

// Sentinel errors for store operations.
var (
	ErrServerNotFound = errors.New("server not found")
	ErrServerDisabled = errors.New("server is disabled")
	ErrServerExists   = errors.New("server already exists")
	ErrNoUpdates      = errors.New("no updates provided")
)

// ValidationError reports a malformed server definition.
type ValidationError struct {
	Server string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Server == "" {
		return fmt.Sprintf("invalid server definition: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid server %q: %s %s", e.Server, e.Field, e.Reason)
}
