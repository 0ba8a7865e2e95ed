// Package ids generates identifiers for clips and publish jobs.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// GenerateID returns a random identifier with the given prefix, e.g. "clip-".
func GenerateID(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic(fmt.Sprintf("ids: read random bytes: %v", err))
	}
	return prefix + hex.EncodeToString(b)
}

// NewTempID returns a client-generated publish idempotency key.
func NewTempID() string {
	return uuid.NewString()
}

// ValidTempID reports whether s parses as a UUID.
func ValidTempID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
