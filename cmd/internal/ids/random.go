package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// ThreadIDBytes is the entropy of a thread identifier (128 bits).
const ThreadIDBytes = 16

// NewRandomHex returns a cryptographically secure random hex string of length 2*nBytes.
// If nBytes <= 0, it defaults to 16 bytes (32 hex chars).
func NewRandomHex(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 16
	}

	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("ids: read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewThreadID returns a fresh 128-bit thread identifier rendered as lowercase hex.
func NewThreadID() (string, error) {
	return NewRandomHex(ThreadIDBytes)
}

// IsThreadID reports whether s has the shape produced by NewThreadID.
func IsThreadID(s string) bool {
	if len(s) != 2*ThreadIDBytes {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
