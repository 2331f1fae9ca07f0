package ir

import "github.com/google/uuid"

// NewID returns a time-sortable UUIDv7, the default id for artifacts,
// edges and room sessions. Ids created later sort later, which keeps
// listings and audit subjects in creation order.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
