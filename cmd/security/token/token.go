package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the resumption-token HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "TASKCHAT_STATE_HMAC_KEY"

	// MinKeyBytes is the minimum accepted HMAC key length.
	MinKeyBytes = 32
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// VerifyHMACSHA256Hex reports whether tagHex is the HMAC-SHA256 of s under key.
// The comparison is constant-time.
func VerifyHMACSHA256Hex(s, tagHex string, key []byte) bool {
	got, err := hex.DecodeString(tagHex)
	if err != nil {
		return false
	}
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hmac.Equal(got, m.Sum(nil))
}

// ParseHMACKey trims raw and enforces a minimum byte length.
// Blank -> ErrHMACKeyMissing. Too short -> ErrHMACKeyTooShort.
func ParseHMACKey(raw string, minBytes int) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}
