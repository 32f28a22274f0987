// Package util holds small helpers shared across the client.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier, optionally tagged with a type prefix
// ("msg", "att"). 12 random bytes keep collisions out of reach for
// client-generated keys while staying short enough to read in log lines.
func NewID(prefix string) string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		panic("util: read random bytes: " + err.Error())
	}
	if prefix == "" {
		return hex.EncodeToString(buf)
	}
	return prefix + "_" + hex.EncodeToString(buf)
}
