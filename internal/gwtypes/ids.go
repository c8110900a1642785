package gwtypes

import "github.com/google/uuid"

// ID is a time-ordered 128-bit identifier (UUIDv7). Every record in the
// system is keyed by one; ordering across records is defined by ID, not
// wall-clock, since UUIDv7 embeds a millisecond timestamp in its high bits.
type ID = uuid.UUID

// NewID mints a fresh UUIDv7 identifier.
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the process's entropy source is broken;
		// fall back to a random v4 rather than panic on the request path.
		return uuid.New()
	}

	return id
}

// ParseID parses a textual UUID.
func ParseID(s string) (ID, error) {
	return uuid.Parse(s)
}
