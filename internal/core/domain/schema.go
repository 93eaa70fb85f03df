package domain

import (
	"fmt"
	"strings"
)

// ErrSchemaViolation is returned when a declaration does not conform to the
// event type's JSON schema. The Errors field contains machine-readable details.
type ErrSchemaViolation struct {
	Errors []string
}

func (e *ErrSchemaViolation) Error() string {
	return fmt.Sprintf("schema validation failed: %s", strings.Join(e.Errors, "; "))
}

// Is reports schema violations as bad requests.
func (e *ErrSchemaViolation) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == CodeBadRequest
}
