package jobs

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns prefix followed by 32 random hex digits, e.g. "scan-3f2a...".
// IDs are unguessable, so a job's stream cannot be found by enumeration.
func NewID(prefix string) string {
	id := uuid.New()
	return prefix + hex.EncodeToString(id[:])
}
