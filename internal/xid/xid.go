package xid

import (
	"github.com/google/uuid"
)

// New returns a prefixed identifier backed by a random UUID, so IDs stay
// unique even when many are generated within the same clock tick.
func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
