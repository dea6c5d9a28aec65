// Package random provides cryptographic randomness helpers.
//
// It uses crypto/rand for session-code minting and high-entropy seeds so
// codes are not guessable from observation of earlier sessions.
package random

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
)

// SessionCodeLength is the fixed length of a session code.
const SessionCodeLength = 6

// Session codes avoid 0/O and 1/I so they survive being read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewSessionCode mints a fixed-length uppercase alphanumeric session code.
// Collision handling is best-effort: codes are not checked for uniqueness
// against any store.
func NewSessionCode() (string, error) {
	var b [SessionCodeLength]byte
	if _, err := crand.Read(b[:]); err != nil {
		return "", fmt.Errorf("read random code: %w", err)
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b[:]), nil
}

// NewSeed generates a random seed using crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}

	return int64(binary.LittleEndian.Uint64(b[:])), nil
}
