package domain

import "github.com/google/uuid"

// NewID generates a UUIDv7 string for application-owned entities. Request
// ids must be caller-generated unique values; this is the generator callers
// are expected to use.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
