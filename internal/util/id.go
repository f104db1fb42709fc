package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns 128 bits of hex with an optional type prefix, e.g.
// "jti_4f…". Used for opaque token identifiers stored in TEXT columns;
// user primary keys are UUIDs and come from the database or the uuid
// package instead.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
