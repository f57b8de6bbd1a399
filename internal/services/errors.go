package services

import (
	"fmt"
	"strings"
)

// NotFoundError reports an unknown rule or execution id.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError reports a structurally invalid rule. It is synchronous
// and never retried.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rule validation failed: %s", strings.Join(e.Errors, "; "))
}
