// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for the entity kinds pairlock hands out IDs for.
const (
	RequestPrefix      = "req-"
	SessionPrefix      = "sess-"
	SubscriptionPrefix = "sub-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 10

// NewRequestID returns a new unique request ID.
func NewRequestID() (string, error) {
	return GenerateWithPrefix(RequestPrefix)
}

// NewSessionID returns a new unique session ID.
func NewSessionID() (string, error) {
	return GenerateWithPrefix(SessionPrefix)
}

// NewSubscriptionID returns a new unique subscription ID.
func NewSubscriptionID() (string, error) {
	return GenerateWithPrefix(SubscriptionPrefix)
}

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
