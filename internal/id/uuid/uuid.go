// Package uuid mints the IDs the job stores hand out for jobs and results.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator satisfies crawler.IDGenerator. Version 7 IDs carry their creation
// time, so jobs and results sort by age on their primary key.
type Generator struct{}

// New returns the generator wired into the memory and Postgres stores.
func New() *Generator {
	return &Generator{}
}

// NewID mints one job or result ID.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("mint job id: %w", err)
	}
	return id.String(), nil
}
