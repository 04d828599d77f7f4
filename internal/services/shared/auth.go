// Package shared provides utilities and instrumentation shared by the
// adapter services.
package shared

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
)

// ErrUnauthorized is returned when a caller presents a token that does not
// match the adapter's owner capability.
var ErrUnauthorized = errors.New("unauthorized: owner token mismatch")

// HashToken derives the stored form of an owner capability token. Only the
// hash is persisted; the bearer token itself never touches storage.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// Authorize checks a bearer token against a stored token hash in constant
// time. Returns ErrUnauthorized on mismatch.
func Authorize(stored [32]byte, token string) error {
	presented := HashToken(token)
	if subtle.ConstantTimeCompare(stored[:], presented[:]) != 1 {
		return ErrUnauthorized
	}
	return nil
}
