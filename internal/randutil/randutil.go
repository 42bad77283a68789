// Package randutil names resources that must not collide between processes.
package randutil

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// SessionTag returns eight hex characters drawn from a random UUID.
func SessionTag() string {
	id := uuid.New()
	return hex.EncodeToString(id[:4])
}

// Scoped appends tag to name as a dot-separated suffix. An empty tag leaves
// name unchanged.
func Scoped(name, tag string) string {
	if tag == "" {
		return name
	}
	return name + "." + tag
}
