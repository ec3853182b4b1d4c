// Package ops implements the brief archive operations shared by the MCP
// server, the web dashboard and the CLI.
package ops

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/scoper/internal/brief"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// normalizeUser returns a pointer to the normalized user, or nil when the
// filter is absent or blank.
func normalizeUser(user *string) *string {
	if user == nil {
		return nil
	}
	norm := brief.Normalize(*user)
	if norm == "" {
		return nil
	}
	return &norm
}

// NewID generates a new ULID.
func NewID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
