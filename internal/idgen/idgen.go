// Package idgen generates short, URL-safe identifiers backed by nanoid.
package idgen

import (
	"fmt"
	"strings"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// RecordPrefix marks store-assigned request log record ids.
	RecordPrefix = "rec-"
	// RequestPrefix marks request ids minted for observed requests that
	// arrived without one.
	RequestPrefix = "req-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 12

// RecordID returns a new record id.
func RecordID() (string, error) {
	return GenerateWithPrefix(RecordPrefix)
}

// RequestID returns a new request id.
func RequestID() (string, error) {
	return GenerateWithPrefix(RequestPrefix)
}

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// HasPrefix reports whether id was minted with prefix and carries a
// random part of the expected length.
func HasPrefix(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix)
	return ok && len(rest) == Length
}
