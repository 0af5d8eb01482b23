// Package uuid mints identifiers for fetch log records.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces UUIDv7 strings. The time-ordered prefix keeps fetch log
// rows roughly insertion-sorted under a b-tree primary key.
type Generator struct{}

// New returns a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a fresh UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuidv7: %w", err)
	}
	return id.String(), nil
}
