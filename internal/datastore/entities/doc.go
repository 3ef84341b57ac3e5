// Package entities contains the GORM models persisted by gridlens.
//
// All primary keys are UUID strings assigned in BeforeCreate hooks, so
// callers may also set them explicitly. JSON field names follow the
// camelCase wire format used by the HTTP API.
package entities

import "github.com/google/uuid"

// newID returns a random UUID string.
func newID() string {
	return uuid.NewString()
}
