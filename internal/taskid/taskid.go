// Package taskid generates opaque identifiers for tasks, conflict
// records, and archived-source rows.
package taskid

import "github.com/google/uuid"

// New returns a fresh random identifier.
func New() string {
	return uuid.NewString()
}
