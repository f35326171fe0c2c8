// Package uuid generates the time-ordered identifiers used for job and
// content rows.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator issues UUIDv7 strings. The embedded timestamp keeps IDs
// roughly sortable by creation time, which the job listings rely on.
type Generator struct{}

// New constructs a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a fresh UUIDv7 in canonical string form.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
