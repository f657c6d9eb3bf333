// Package uuid generates identifiers for workers and failure records.
package uuid

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Generator creates UUID v7 strings.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// WorkerID builds a process-unique worker identity of the form
// role-host-suffix, where suffix is the first block of a random UUID.
func (g Generator) WorkerID(role string) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate worker id: %w", err)
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	suffix, _, _ := strings.Cut(id.String(), "-")
	return fmt.Sprintf("%s-%s-%s", role, host, suffix), nil
}
